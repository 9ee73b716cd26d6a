package server

// RPC request bodies. Parameter names follow the p_ convention of the
// hosted backend's stored procedures.

type ValidateKeyRequest struct {
	Key string `json:"p_key"`
}

type KeyRequest struct {
	APIKey string `json:"p_api_key"`
}

type ShareKnowledgeRequest struct {
	APIKey      string   `json:"p_api_key"`
	Content     string   `json:"p_content"`
	Tags        []string `json:"p_tags,omitempty"`
	Type        string   `json:"p_type,omitempty"`
	ProjectSlug string   `json:"p_project_slug,omitempty"`
}

type PostTaskRequest struct {
	APIKey      string `json:"p_api_key"`
	Task        string `json:"p_task"`
	ToClaude    string `json:"p_to_claude,omitempty"`
	Priority    *int   `json:"p_priority,omitempty"`
	ProjectSlug string `json:"p_project_slug,omitempty"`
}

type DeleteTaskRequest struct {
	APIKey string `json:"p_api_key"`
	TaskID string `json:"p_task_id"`
}

type DeleteKnowledgeRequest struct {
	APIKey      string `json:"p_api_key"`
	KnowledgeID string `json:"p_knowledge_id"`
}

type PostChatRequest struct {
	APIKey      string `json:"p_api_key"`
	Message     string `json:"p_message"`
	ProjectSlug string `json:"p_project_slug,omitempty"`
	Urgent      bool   `json:"p_urgent,omitempty"`
}

type GetChatRequest struct {
	APIKey      string `json:"p_api_key"`
	ProjectSlug string `json:"p_project_slug,omitempty"`
	Limit       int    `json:"p_limit,omitempty" minimum:"0"`
}

type InviteRequest struct {
	APIKey string `json:"p_api_key"`
	Email  string `json:"p_email"`
	Role   string `json:"p_role,omitempty"`
}

type HeartbeatRequest struct {
	APIKey  string `json:"p_api_key"`
	Status  string `json:"p_status,omitempty" enum:"active,busy,idle,away"`
	Project string `json:"p_project,omitempty"`
}

type OnlineRequest struct {
	APIKey  string `json:"p_api_key"`
	Minutes int    `json:"p_minutes_threshold,omitempty" minimum:"0"`
}

type LogWorkRequest struct {
	ClaudeID  string `json:"p_claude_id"`
	ProjectID string `json:"p_project_id,omitempty"`
	Action    string `json:"p_action" enum:"started,completed,paused,error,handoff"`
	Details   string `json:"p_details,omitempty"`
}

// REST patch bodies.

type TaskPatchRequest struct {
	Status     *string `json:"status,omitempty" enum:"pending,claimed,done,failed"`
	ClaimedBy  *string `json:"claimed_by,omitempty"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	Result     *string `json:"result,omitempty"`
}

type KnowledgePatchRequest struct {
	Content *string  `json:"content,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}
