package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"colab/internal/backend"
	"colab/internal/db"
	"colab/internal/domain"
	"colab/internal/engine"
	"colab/internal/events"
	"colab/internal/keys"
	"colab/internal/migrate"
	"colab/internal/repo"
	"colab/internal/server"
)

const jwtSecret = "engine-test-secret"

type testEnv struct {
	Ctx    context.Context
	Repo   repo.Repo
	TeamID string
	URL    string
	Anon   string
	Store  *keys.Keystore
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	team, err := r.EnsureTeam(ctx, "swarm")
	if err != nil {
		t.Fatalf("ensure team: %v", err)
	}
	handler, err := server.New(server.Config{Repo: r, Auth: server.AuthConfig{JWTSecret: jwtSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	anon, err := server.MintAnonKey(jwtSecret, server.RoleAnon)
	if err != nil {
		t.Fatalf("mint anon key: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	url := "http://" + ln.Addr().String()
	return testEnv{
		Ctx:    ctx,
		Repo:   r,
		TeamID: team.ID,
		URL:    url,
		Anon:   anon,
		Store: &keys.Keystore{
			Path:      filepath.Join(dir, "keystore.json"),
			Validator: backend.New(url, anon),
		},
	}
}

// agent returns a connected engine for a fresh identity.
func (env testEnv) agent(t *testing.T, name string) *engine.Engine {
	t.Helper()
	cred, _, err := env.Repo.CreateAPIKey(env.Ctx, env.TeamID, name)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	eng := env.engine()
	ok, err := eng.Connect(env.Ctx, cred, name)
	if err != nil || !ok {
		t.Fatalf("connect %s: %v", name, err)
	}
	return eng
}

func (env testEnv) engine() *engine.Engine {
	eng := engine.New(backend.New(env.URL, env.Anon), env.Store)
	eng.Resolver.LookupEnv = func(string) string { return "" }
	return eng
}

func TestConnectEstablishesSession(t *testing.T) {
	env := newTestEnv(t)
	eng := env.agent(t, "black")
	s := eng.Session()
	if !s.Connected || s.IdentityName != "BLACK" || s.TeamID != env.TeamID {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.ProjectSlug != engine.DefaultProject {
		t.Fatalf("project %q", s.ProjectSlug)
	}
	if got := eng.String(); got != "<colab 'BLACK' connected>" {
		t.Fatalf("string %q", got)
	}
}

func TestConnectInvalidKey(t *testing.T) {
	env := newTestEnv(t)
	eng := env.engine()
	eng.SetProject("alpha")
	ok, err := eng.Connect(env.Ctx, "cc_not_a_real_key", "")
	if ok || !errors.Is(err, backend.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v %v", ok, err)
	}
	s := eng.Session()
	if s.Connected || s.ProjectSlug != "alpha" {
		t.Fatalf("failed connect should keep only the project, got %+v", s)
	}
	if eng.String() != "<colab disconnected>" {
		t.Fatalf("string %q", eng.String())
	}
}

func TestConnectUsesKeystore(t *testing.T) {
	env := newTestEnv(t)
	cred, _, err := env.Repo.CreateAPIKey(env.Ctx, env.TeamID, "white")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Store.Stock(env.Ctx, "white", cred, ""); err != nil {
		t.Fatalf("stock: %v", err)
	}
	eng := env.engine()
	if ok, err := eng.Connect(env.Ctx, "", "White"); err != nil || !ok {
		t.Fatalf("connect from keystore: %v", err)
	}
	if eng.Session().IdentityName != "WHITE" {
		t.Fatalf("session %+v", eng.Session())
	}
}

func TestOperationsRequireConnection(t *testing.T) {
	env := newTestEnv(t)
	eng := env.engine()
	if _, err := eng.ListTasks(env.Ctx, ""); !errors.Is(err, engine.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := eng.Chat(env.Ctx, "hi", false); !errors.Is(err, keys.ErrNoCredential) {
		t.Fatalf("expected the resolver cause to be kept, got %v", err)
	}
	if rep, err := eng.Status(env.Ctx); err != nil || rep.Connected {
		t.Fatalf("status should not connect: %+v %v", rep, err)
	}
}

func TestEnsureConnectedUsesConfiguredCredential(t *testing.T) {
	env := newTestEnv(t)
	cred, _, err := env.Repo.CreateAPIKey(env.Ctx, env.TeamID, "green")
	if err != nil {
		t.Fatal(err)
	}
	eng := env.engine()
	eng.Credential = cred
	if ok, err := eng.PostTask(env.Ctx, "lazy connect", "", 5); err != nil || !ok {
		t.Fatalf("post task: %v", err)
	}
	if eng.Session().IdentityName != "GREEN" {
		t.Fatalf("session %+v", eng.Session())
	}
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	black := env.agent(t, "black")
	white := env.agent(t, "white")

	if _, err := black.PostTask(env.Ctx, "first", "", 3); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := black.PostTask(env.Ctx, "second", "white", 7); err != nil {
		t.Fatalf("post: %v", err)
	}
	tasks, err := white.ListTasks(env.Ctx, domain.TaskPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Task != "second" || tasks[1].Task != "first" {
		t.Fatalf("expected newest first, got %+v", tasks)
	}
	second := tasks[0]
	if !second.IsAssignedTo("WHITE") || second.Priority != 7 || second.ProjectSlug != engine.DefaultProject {
		t.Fatalf("unexpected task %+v", second)
	}

	if ok, err := white.ClaimTask(env.Ctx, second.ID); err != nil || !ok {
		t.Fatalf("claim: %v", err)
	}
	ok, err := black.ClaimTask(env.Ctx, second.ID)
	var apiErr *backend.APIError
	if ok || !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("second claim should conflict, got %v %v", ok, err)
	}
	if ok, err := white.CompleteTask(env.Ctx, second.ID, "shipped"); err != nil || !ok {
		t.Fatalf("complete: %v", err)
	}
	if ok, err := white.FailTask(env.Ctx, tasks[1].ID, "blocked upstream"); err != nil || !ok {
		t.Fatalf("fail: %v", err)
	}

	all, err := black.ListTasks(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]domain.Task{}
	for _, tk := range all {
		byID[tk.ID] = tk
	}
	done := byID[second.ID]
	if done.Status != domain.TaskDone || done.Result == nil || *done.Result != "shipped" || done.ClaimedBy == nil || *done.ClaimedBy != "WHITE" {
		t.Fatalf("unexpected done task %+v", done)
	}
	if failed := byID[tasks[1].ID]; failed.Status != domain.TaskFailed || *failed.Result != "blocked upstream" {
		t.Fatalf("unexpected failed task %+v", failed)
	}

	if ok, err := black.DeleteTask(env.Ctx, second.ID); err != nil || !ok {
		t.Fatalf("delete: %v", err)
	}
	all, err = black.ListTasks(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID == second.ID {
		t.Fatalf("deleted task still listed: %+v", all)
	}
	if ok, err := black.DeleteTask(env.Ctx, second.ID); ok || !errors.Is(err, backend.ErrRejected) {
		t.Fatalf("double delete should be rejected, got %v %v", ok, err)
	}
}

func TestCheckpointGate(t *testing.T) {
	env := newTestEnv(t)
	black := env.agent(t, "black")
	white := env.agent(t, "white")

	res, err := black.Checkpoint(env.Ctx, "clean", engine.CheckpointOptions{Hard: true, CheckTasks: true})
	if err != nil || !res.Passed || len(res.Blockers) != 0 {
		t.Fatalf("clean state should pass: %+v %v", res, err)
	}

	for _, msg := range []string{"@BLACK please look", "unrelated", "ping @BLACK again"} {
		if _, err := white.Chat(env.Ctx, msg, false); err != nil {
			t.Fatalf("chat: %v", err)
		}
	}
	res, err = black.Checkpoint(env.Ctx, "soft", engine.CheckpointOptions{})
	if err != nil {
		t.Fatalf("soft checkpoint must not error: %v", err)
	}
	if res.Passed || res.Mentions != 2 || len(res.Blockers) != 1 || res.Blockers[0] != "2 unread mentions" {
		t.Fatalf("unexpected soft result %+v", res)
	}

	res, err = black.Checkpoint(env.Ctx, "skip", engine.CheckpointOptions{SkipMentions: true})
	if err != nil || !res.Passed {
		t.Fatalf("skipping mentions should pass: %+v %v", res, err)
	}

	if _, err := white.PostTask(env.Ctx, "for black", "BLACK", 5); err != nil {
		t.Fatal(err)
	}
	if _, err := white.PostTask(env.Ctx, "for anyone", "", 5); err != nil {
		t.Fatal(err)
	}
	hard, err := black.Checkpoint(env.Ctx, "deploy", engine.CheckpointOptions{Hard: true, CheckTasks: true})
	var cpErr *engine.CheckpointError
	if !errors.As(err, &cpErr) {
		t.Fatalf("expected CheckpointError, got %v", err)
	}
	want := []string{"2 unread mentions", "1 pending tasks"}
	if strings.Join(hard.Blockers, "|") != strings.Join(want, "|") || strings.Join(cpErr.Blockers, "|") != strings.Join(want, "|") {
		t.Fatalf("blockers %v / %v", hard.Blockers, cpErr.Blockers)
	}
	if cpErr.Label != "deploy" || hard.Tasks != 1 {
		t.Fatalf("unexpected error %+v result %+v", cpErr, hard)
	}
}

func TestCheckpointNotConnected(t *testing.T) {
	env := newTestEnv(t)
	eng := env.engine()
	res, err := eng.Checkpoint(env.Ctx, "soft", engine.CheckpointOptions{})
	if err != nil || res.Passed || len(res.Blockers) != 1 || res.Blockers[0] != "Not connected" {
		t.Fatalf("unexpected soft result %+v %v", res, err)
	}
	_, err = eng.Checkpoint(env.Ctx, "hard", engine.CheckpointOptions{Hard: true})
	var cpErr *engine.CheckpointError
	if !errors.As(err, &cpErr) || cpErr.Blockers[0] != "Not connected" {
		t.Fatalf("expected hard failure, got %v", err)
	}
}

func TestNewMentionsSince(t *testing.T) {
	env := newTestEnv(t)
	black := env.agent(t, "black")
	white := env.agent(t, "white")
	for _, msg := range []string{"@BLACK one", "noise", "@BLACK two", "@BLACKOUT three"} {
		if _, err := white.Chat(env.Ctx, msg, false); err != nil {
			t.Fatal(err)
		}
	}
	all, err := black.NewMentionsSince(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Message != "@BLACK one" || all[2].Message != "@BLACKOUT three" {
		t.Fatalf("expected every mention oldest first, got %+v", all)
	}
	after, err := black.NewMentionsSince(env.Ctx, all[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 || after[0].ID != all[1].ID {
		t.Fatalf("expected mentions after the first, got %+v", after)
	}
	none, err := black.NewMentionsSince(env.Ctx, all[2].ID)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected nothing after the latest, got %+v %v", none, err)
	}
	unknown, err := black.NewMentionsSince(env.Ctx, "no-such-id")
	if err != nil || len(unknown) != 3 {
		t.Fatalf("unknown id should return every mention, got %+v %v", unknown, err)
	}
}

func TestHeartbeatWorkingOn(t *testing.T) {
	env := newTestEnv(t)
	black := env.agent(t, "black")
	white := env.agent(t, "white")
	black.SetProject("alpha")
	white.SetProject("alpha")
	if _, err := white.Chat(env.Ctx, "@BLACK standup", false); err != nil {
		t.Fatal(err)
	}

	long := strings.Repeat("é", domain.MaxWorkingOn+50)
	res, err := black.Heartbeat(env.Ctx, engine.HeartbeatOptions{Status: domain.PresenceBusy, WorkingOn: &long})
	if err != nil || !res.OK {
		t.Fatalf("heartbeat: %+v %v", res, err)
	}
	if res.Mentions != 1 || len(res.MentionProjects) != 1 || res.MentionProjects[0] != "alpha" {
		t.Fatalf("unexpected mentions %+v", res)
	}
	inst, err := black.MyInstance(env.Ctx)
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	if n := utf8.RuneCountInString(inst.WorkingOn); n != domain.MaxWorkingOn {
		t.Fatalf("working_on has %d runes", n)
	}
	if inst.Status != domain.PresenceBusy || inst.CurrentProject != "alpha" {
		t.Fatalf("unexpected instance %+v", inst)
	}

	online, err := white.WhoOnline(env.Ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(online) != 1 || online[0].ClaudeName != "BLACK" {
		t.Fatalf("unexpected online %+v", online)
	}

	empty := ""
	if _, err := black.Heartbeat(env.Ctx, engine.HeartbeatOptions{WorkingOn: &empty, SkipMentions: true}); err != nil {
		t.Fatal(err)
	}
	inst, err = black.MyInstance(env.Ctx)
	if err != nil || inst.WorkingOn != "" || inst.Status != domain.PresenceActive {
		t.Fatalf("expected cleared working_on, got %+v %v", inst, err)
	}
}

// A backend whose heartbeat succeeds while chat and instance reads fail.
func flakyBackend(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rest/v1/rpc/validate_api_key", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"team_id":"team-1","user_id":"user-1","claude_name":"BLACK"}]`))
	})
	mux.HandleFunc("POST /rest/v1/rpc/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`true`))
	})
	fail := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
	}
	mux.HandleFunc("POST /rest/v1/rpc/get_chat", fail)
	mux.HandleFunc("/rest/v1/claude_instances", fail)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestHeartbeatSurvivesScanFailures(t *testing.T) {
	ctx := context.Background()
	eng := engine.New(backend.New(flakyBackend(t), "anon"), &keys.Keystore{Path: filepath.Join(t.TempDir(), "keystore.json")})
	eng.Resolver.LookupEnv = func(string) string { return "" }
	if ok, err := eng.Connect(ctx, "cc_black", "black"); err != nil || !ok {
		t.Fatalf("connect: %v", err)
	}
	working := "refactoring the parser"
	for _, opts := range []engine.HeartbeatOptions{{}, {WorkingOn: &working}} {
		res, err := eng.Heartbeat(ctx, opts)
		if err != nil || !res.OK || res.Mentions != 0 {
			t.Fatalf("heartbeat %+v: %+v %v", opts, res, err)
		}
	}
	b, err := json.Marshal(engine.HeartbeatResult{OK: true, Mentions: 2, MentionProjects: []string{"alpha"}})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); got != `{"ok":true,"mentions":2,"mention_projects":["alpha"]}` {
		t.Fatalf("heartbeat json %s", got)
	}
}

func TestLogWorkNeedsInstance(t *testing.T) {
	env := newTestEnv(t)
	black := env.agent(t, "black")
	if _, err := black.LogWork(env.Ctx, "started", nil); !errors.Is(err, engine.ErrNoInstance) {
		t.Fatalf("expected ErrNoInstance, got %v", err)
	}
	if _, err := black.Heartbeat(env.Ctx, engine.HeartbeatOptions{SkipMentions: true}); err != nil {
		t.Fatal(err)
	}
	if ok, err := black.LogWork(env.Ctx, "started", map[string]any{"task": "t-1"}); err != nil || !ok {
		t.Fatalf("log work: %v", err)
	}
	inst, err := black.MyInstance(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if inst.CurrentProjectID == "" || inst.CurrentProjectID == inst.CurrentProject {
		t.Fatalf("instance should carry the project id, got %+v", inst)
	}
	entries, err := events.Writer{DB: env.Repo.DB}.List(env.Ctx, inst.ID, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("work log %+v %v", entries, err)
	}
	if entries[0].ProjectID != inst.CurrentProjectID {
		t.Fatalf("work log project %q, want id %q", entries[0].ProjectID, inst.CurrentProjectID)
	}
}

func TestKnowledge(t *testing.T) {
	env := newTestEnv(t)
	black := env.agent(t, "black")
	if _, err := black.Share(env.Ctx, "Always run the Migrations first", []string{"db"}); err != nil {
		t.Fatalf("share: %v", err)
	}
	if _, err := black.Share(env.Ctx, "Prefer small commits", nil); err != nil {
		t.Fatalf("share: %v", err)
	}
	found, err := black.Search(env.Ctx, "migrations", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].Type != "lesson" || found[0].Author != "BLACK" {
		t.Fatalf("unexpected search %+v", found)
	}
	if ok, err := black.UpdateKnowledge(env.Ctx, found[0].ID, "Always run migrations before tests", nil); err != nil || !ok {
		t.Fatalf("update: %v", err)
	}
	recent, err := black.Recent(env.Ctx, 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("recent: %+v %v", recent, err)
	}
	if ok, err := black.DeleteKnowledge(env.Ctx, found[0].ID); err != nil || !ok {
		t.Fatalf("delete: %v", err)
	}
	found, err = black.Search(env.Ctx, "migrations", 10)
	if err != nil || len(found) != 0 {
		t.Fatalf("deleted entry still found: %+v %v", found, err)
	}
}

func TestProjectsAndSummary(t *testing.T) {
	env := newTestEnv(t)
	black := env.agent(t, "black")

	projects, err := black.Projects(env.Ctx)
	if err != nil || len(projects) != 0 {
		t.Fatalf("fresh team should have no projects: %+v %v", projects, err)
	}
	if _, err := env.Repo.InsertProject(env.Ctx, env.TeamID, domain.Project{Slug: "alpha", Name: "Alpha", Description: "first"}); err != nil {
		t.Fatal(err)
	}
	black.SetProject("alpha")
	if _, err := black.Chat(env.Ctx, "hello", false); err != nil {
		t.Fatal(err)
	}
	if _, err := black.PostTask(env.Ctx, "build", "", 5); err != nil {
		t.Fatal(err)
	}
	if _, err := black.Share(env.Ctx, "note", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := black.Heartbeat(env.Ctx, engine.HeartbeatOptions{SkipMentions: true}); err != nil {
		t.Fatal(err)
	}

	slugs, err := black.Channels(env.Ctx)
	if err != nil || len(slugs) != 1 || slugs[0] != "alpha" {
		t.Fatalf("channels %v %v", slugs, err)
	}
	sum, err := black.ProjectSummary(env.Ctx, "")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Name != "Alpha" || sum.MessageCount != 1 || sum.TasksPending != 1 || sum.TasksTotal != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if len(sum.OnlineNow) != 1 || sum.OnlineNow[0].Name != "BLACK" {
		t.Fatalf("unexpected online %+v", sum.OnlineNow)
	}
	if len(sum.RecentContributors) != 1 || sum.RecentContributors[0] != "BLACK" {
		t.Fatalf("unexpected contributors %+v", sum.RecentContributors)
	}

	rep, err := black.Status(env.Ctx)
	if err != nil || !rep.Connected || rep.PendingTasks != 1 || rep.KnowledgeCount != 1 {
		t.Fatalf("unexpected status %+v %v", rep, err)
	}
}

func TestInvite(t *testing.T) {
	env := newTestEnv(t)
	black := env.agent(t, "black")
	res, err := black.Invite(env.Ctx, "peer@example.com", "")
	if err != nil || !res.Success || res.InviteURL == "" {
		t.Fatalf("invite: %+v %v", res, err)
	}
	res, err = black.Invite(env.Ctx, "not-an-email", "")
	if !errors.Is(err, backend.ErrRejected) || res.Error == "" {
		t.Fatalf("expected rejection, got %+v %v", res, err)
	}
}

func TestHelpBuddy(t *testing.T) {
	env := newTestEnv(t)
	black := env.agent(t, "black")
	cred, _, err := env.Repo.CreateAPIKey(env.Ctx, env.TeamID, "white")
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := black.HelpBuddy(env.Ctx, "white", cred); err != nil || !ok {
		t.Fatalf("help buddy: %v", err)
	}
	got, ok := env.Store.Vend("WHITE")
	if !ok || got != cred {
		t.Fatalf("keystore did not vend the buddy key")
	}

	stranger := env.engine()
	stranger.Credential = "cc_bogus"
	if ok, err := stranger.HelpBuddy(env.Ctx, "red", cred); ok || !errors.Is(err, engine.ErrNotConnected) {
		t.Fatalf("disconnected helper should fail, got %v %v", ok, err)
	}
}
