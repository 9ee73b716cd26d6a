package domain

import (
	"strings"
	"time"
)

// Role is an agent's rank in the swarm hierarchy.
type Role string

const (
	RoleSupervisor Role = "supervisor"
	RoleManager    Role = "manager"
	RoleWorker     Role = "worker"
	RoleGrunt      Role = "grunt"
	RoleBot        Role = "bot"
)

// Roles lists every role from highest to lowest rank.
var Roles = []Role{RoleSupervisor, RoleManager, RoleWorker, RoleGrunt, RoleBot}

// Rank maps a role to its position in the total order. Unknown roles rank as bot.
func (r Role) Rank() int {
	switch r {
	case RoleSupervisor:
		return 4
	case RoleManager:
		return 3
	case RoleWorker:
		return 2
	case RoleGrunt:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

type Identity struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// NormalizeName upper-cases an agent name the way every lookup table keys it.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

const (
	TaskPending = "pending"
	TaskClaimed = "claimed"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// TaskStatuses lists the valid task states.
var TaskStatuses = []string{TaskPending, TaskClaimed, TaskDone, TaskFailed}

type Task struct {
	ID          string  `json:"id"`
	TeamID      string  `json:"team_id,omitempty"`
	ProjectSlug string  `json:"project_slug,omitempty"`
	Task        string  `json:"task"`
	PostedBy    string  `json:"posted_by,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	ClaimedBy   *string `json:"claimed_by,omitempty"`
	Status      string  `json:"status" enum:"pending,claimed,done,failed"`
	Priority    int     `json:"priority"`
	Result      *string `json:"result,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	DeletedAt   *string `json:"deleted_at,omitempty" format:"date-time"`
}

// IsAssignedTo reports whether the task is assigned to the named agent.
func (t Task) IsAssignedTo(name string) bool {
	return t.AssignedTo != nil && *t.AssignedTo == name
}

type ChatMessage struct {
	ID          string `json:"id"`
	Author      string `json:"author"`
	Message     string `json:"message"`
	ProjectSlug string `json:"project_slug,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	Urgent      bool   `json:"urgent,omitempty"`
}

type Project struct {
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	MessageCount int    `json:"message_count,omitempty"`
	CreatedAt    string `json:"created_at,omitempty" format:"date-time"`
}

const (
	PresenceActive = "active"
	PresenceBusy   = "busy"
	PresenceIdle   = "idle"
	PresenceAway   = "away"
)

// PresenceStatuses lists the statuses a heartbeat may carry.
var PresenceStatuses = []string{PresenceActive, PresenceBusy, PresenceIdle, PresenceAway}

// MaxWorkingOn bounds the stored "currently working on" text, in runes.
const MaxWorkingOn = 200

type PresenceRecord struct {
	ClaudeName     string `json:"claude_name"`
	Status         string `json:"status" enum:"active,busy,idle,away"`
	CurrentProject string `json:"current_project,omitempty"`
	WorkingOn      string `json:"working_on,omitempty"`
	LastSeen       string `json:"last_seen" format:"date-time"`
	MinutesAgo     int    `json:"minutes_ago"`
}

// Online reports whether the record was seen within threshold of now.
// Records with an unparseable LastSeen are never online.
func (p PresenceRecord) Online(now time.Time, threshold time.Duration) bool {
	seen, err := time.Parse(time.RFC3339, p.LastSeen)
	if err != nil {
		return false
	}
	return now.Sub(seen) <= threshold
}

type Instance struct {
	ID               string `json:"id"`
	TeamID           string `json:"team_id,omitempty"`
	Name             string `json:"name"`
	Role             string `json:"role,omitempty"`
	Status           string `json:"status,omitempty"`
	CurrentProject   string `json:"current_project,omitempty"`
	// CurrentProjectID is the id of CurrentProject; work log entries use it.
	CurrentProjectID string `json:"current_project_id,omitempty"`
	WorkingOn        string `json:"working_on,omitempty"`
	LastSeen         string `json:"last_seen,omitempty" format:"date-time"`
}

type Knowledge struct {
	ID          string   `json:"id"`
	TeamID      string   `json:"team_id,omitempty"`
	ProjectSlug string   `json:"project_slug,omitempty"`
	Author      string   `json:"author"`
	Content     string   `json:"content"`
	Tags        []string `json:"tags"`
	Type        string   `json:"type"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	DeletedAt   *string  `json:"deleted_at,omitempty" format:"date-time"`
}

// KeyInfo is what the backend reports for a valid credential.
type KeyInfo struct {
	TeamID     string `json:"team_id"`
	UserID     string `json:"user_id"`
	ClaudeName string `json:"claude_name"`
}

type InviteResult struct {
	Success   bool   `json:"success"`
	InviteID  string `json:"invite_id,omitempty"`
	Token     string `json:"token,omitempty"`
	InviteURL string `json:"invite_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

type APIKey struct {
	ID         string `json:"id"`
	TeamID     string `json:"team_id"`
	UserID     string `json:"user_id"`
	ClaudeName string `json:"claude_name"`
	KeyPrefix  string `json:"key_prefix"`
	KeyHash    string `json:"-"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type WorkLogEntry struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	ClaudeID  string `json:"claude_id"`
	ProjectID string `json:"project_id,omitempty"`
	Action    string `json:"action" enum:"started,completed,paused,error,handoff"`
	Details   string `json:"details,omitempty"`
}
