// Package app wires configuration into the client engine and the local
// backend emulator.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"colab/internal/backend"
	"colab/internal/config"
	"colab/internal/engine"
	"colab/internal/engine/auth"
	"colab/internal/keys"
	"colab/internal/settings"
)

// Overrides are values that win over colab.yml, typically flags or env.
type Overrides struct {
	Name       string
	Key        string
	Project    string
	BackendURL string
	AnonKey    string
}

// Client bundles everything an agent process needs. Backend and Engine are
// nil when built by NewLocal.
type Client struct {
	Config   *config.Config
	Backend  *backend.Client
	Keystore *keys.Keystore
	Roles    auth.Hierarchy
	Settings *settings.Store
	Engine   *engine.Engine
}

var ErrNoBackend = errors.New("backend url not configured; set backend.url in colab.yml or COLAB_BACKEND_URL")

// Apply merges overrides into cfg. Empty overrides keep the file values.
// SUPABASE_URL and SUPABASE_ANON_KEY are honored last.
func Apply(cfg *config.Config, o Overrides) {
	set := func(dst *string, vals ...string) {
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				*dst = v
				return
			}
		}
	}
	set(&cfg.Identity.Name, o.Name)
	set(&cfg.Identity.Project, o.Project)
	set(&cfg.Backend.URL, o.BackendURL, cfg.Backend.URL, os.Getenv("SUPABASE_URL"))
	set(&cfg.Backend.AnonKey, o.AnonKey, cfg.Backend.AnonKey, os.Getenv("SUPABASE_ANON_KEY"))
}

// NewLocal builds the parts that work without a backend: keystore, role
// hierarchy and settings. Keystore writes with a requester need NewClient.
func NewLocal(cfg *config.Config, o Overrides, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	Apply(cfg, o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table := cfg.RoleTable()
	if table == nil {
		table = auth.DefaultRoles
	}
	roles := auth.NewHierarchy(table)
	return &Client{
		Config:   cfg,
		Keystore: &keys.Keystore{Path: config.ExpandHome(cfg.Paths.Keystore)},
		Roles:    roles,
		Settings: &settings.Store{BaseDir: config.ExpandHome(cfg.Paths.Bots), Roles: roles, Logger: logger},
	}, nil
}

// NewClient builds the engine and its collaborators. It does not connect.
func NewClient(cfg *config.Config, o Overrides, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := NewLocal(cfg, o, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Backend.URL == "" {
		return nil, ErrNoBackend
	}
	client := backend.New(cfg.Backend.URL, cfg.Backend.AnonKey)
	client.Logger = logger
	if d := cfg.Timeout(); d > 0 {
		client.Timeout = d
	}
	c.Backend = client
	c.Keystore.Validator = client

	eng := engine.New(client, c.Keystore)
	eng.Logger = logger
	eng.Credential = o.Key
	eng.Name = cfg.Identity.Name
	if cfg.Identity.Project != "" {
		eng.SetProject(cfg.Identity.Project)
	}
	c.Engine = eng
	logger.Debug("client configured",
		"backend", cfg.Backend.URL,
		"name", cfg.Identity.Name,
		"project", cfg.Identity.Project,
		"keystore", c.Keystore.Path)
	return c, nil
}

// Identity reports who this process acts as, by role.
func (c *Client) Identity() string {
	id := c.Roles.Identity(c.Config.Identity.Name)
	if id.Name == "" {
		return fmt.Sprintf("(anonymous) [%s]", id.Role)
	}
	return fmt.Sprintf("%s [%s]", id.Name, id.Role)
}
