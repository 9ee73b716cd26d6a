package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"colab/internal/config"
	"colab/internal/db"
	"colab/internal/events"
	"colab/internal/migrate"
	"colab/internal/repo"
	"colab/internal/server"
)

// EnvJWTSecret carries the emulator's signing secret when colab.yml has none.
const EnvJWTSecret = "COLAB_JWT_SECRET"

// Emulator is an opened, migrated emulator database with its default team.
type Emulator struct {
	DB     *sql.DB
	Path   string
	Repo   repo.Repo
	Team   repo.Team
	Config *config.Config
	Logger *slog.Logger
}

// OpenEmulator opens the workspace database, applies migrations and makes
// sure the configured team exists. The team is created on first use.
func OpenEmulator(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*Emulator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	dbCfg := db.Config{Workspace: workspace, Path: cfg.Server.Database}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	if err := migrate.Apply(ctx, conn, logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}
	teamName := cfg.Server.Team
	if teamName == "" {
		teamName = "default"
	}
	team, err := r.EnsureTeam(ctx, teamName)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Emulator{DB: conn, Path: db.Path(dbCfg), Repo: r, Team: team, Config: cfg, Logger: logger}, nil
}

func (e *Emulator) Close() error {
	return e.DB.Close()
}

// JWTSecret returns the signing secret from config or the environment.
func (e *Emulator) JWTSecret() (string, error) {
	if s := e.Config.Server.JWTSecret; s != "" {
		return s, nil
	}
	if s := os.Getenv(EnvJWTSecret); s != "" {
		return s, nil
	}
	return "", errors.New(EnvJWTSecret + " or server.jwt_secret is required")
}

// Handler builds the HTTP API of the emulator.
func (e *Emulator) Handler() (http.Handler, error) {
	secret, err := e.JWTSecret()
	if err != nil {
		return nil, err
	}
	return server.New(server.Config{
		Repo:          e.Repo,
		Events:        events.Writer{DB: e.DB},
		Auth:          server.AuthConfig{JWTSecret: secret, Logger: e.Logger},
		InviteBaseURL: e.Config.Server.InviteBaseURL,
		Logger:        e.Logger,
	})
}

// AnonKey mints a project key of role for clients of this emulator.
func (e *Emulator) AnonKey(role string) (string, error) {
	secret, err := e.JWTSecret()
	if err != nil {
		return "", err
	}
	return server.MintAnonKey(secret, role)
}
