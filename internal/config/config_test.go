package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"colab/internal/domain"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default("black")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Identity.Name != "BLACK" || cfg.Identity.Project != "claude-colab" {
		t.Fatalf("unexpected identity %+v", cfg.Identity)
	}
	if cfg.Timeout() != 15*time.Second {
		t.Fatalf("timeout %v", cfg.Timeout())
	}
	if cfg.RoleTable() != nil {
		t.Fatalf("default config should leave roles to the built-in table")
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
backend:
  url: https://example.supabase.co
identity:
  name: WHITE
roles:
  white: manager
  ollama: grunt
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Backend.URL != "https://example.supabase.co" || cfg.Backend.Timeout != "15s" {
		t.Fatalf("unexpected backend %+v", cfg.Backend)
	}
	if cfg.Server.Addr != "127.0.0.1:8787" {
		t.Fatalf("server default lost: %+v", cfg.Server)
	}
	roles := cfg.RoleTable()
	if roles["WHITE"] != domain.RoleManager || roles["OLLAMA"] != domain.RoleGrunt {
		t.Fatalf("unexpected roles %+v", roles)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad url":     "backend:\n  url: ftp://nope\n",
		"bad timeout": "backend:\n  timeout: soon\n",
		"neg timeout": "backend:\n  timeout: -1s\n",
		"bad role":    "roles:\n  BLACK: emperor\n",
		"bad project": "identity:\n  project: my project\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	if _, err := FromYAML([]byte("backend: [")); err == nil || !strings.Contains(err.Error(), "invalid config yaml") {
		t.Fatalf("expected yaml error, got %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil || cfg.Server.Team != "default" {
		t.Fatalf("missing file should yield defaults: %+v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("Load should require the file")
	}
	if err := os.WriteFile(Path(dir), []byte("identity:\n  name: GREEN\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil || cfg.Identity.Name != "GREEN" {
		t.Fatalf("unexpected config %+v %v", cfg, err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/.claude/keystore.json"); got != filepath.Join(home, ".claude", "keystore.json") {
		t.Fatalf("expand %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Fatalf("absolute path changed: %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default("black")
	cfg.Identity.Project = "alpha"
	cfg.Roles = map[string]string{"BLACK": "supervisor"}
	if err := Save(dir, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Identity.Project != "alpha" || got.Identity.Name != "BLACK" || got.Roles["BLACK"] != "supervisor" {
		t.Fatalf("round trip lost values: %+v", got)
	}
	cfg.Roles["X"] = "emperor"
	if err := Save(dir, cfg); err == nil {
		t.Fatalf("invalid config should not be saved")
	}
}
