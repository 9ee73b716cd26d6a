package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"colab/internal/backend"
	"colab/internal/keys"
)

// DefaultProject is the routing key a fresh session starts on.
const DefaultProject = "claude-colab"

// DefaultChatLimit bounds the chat window scanned for mentions.
const DefaultChatLimit = 20

var ErrNotConnected = errors.New("not connected")

// Session is the state established by a successful Connect.
type Session struct {
	Credential   string
	IdentityName string
	TeamID       string
	UserID       string
	ProjectSlug  string
	Connected    bool
}

// Engine is one agent's view of the swarm. It owns a single Session and is
// not safe for concurrent use.
type Engine struct {
	Backend  *backend.Client
	Resolver keys.Resolver
	Keystore *keys.Keystore
	Logger   *slog.Logger

	// Credential and Name are what EnsureConnected connects with.
	Credential string
	Name       string

	session Session
}

func New(client *backend.Client, ks *keys.Keystore) *Engine {
	return &Engine{
		Backend:  client,
		Resolver: keys.Resolver{Keystore: ks},
		Keystore: ks,
		session:  Session{ProjectSlug: DefaultProject},
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Connect resolves a credential when none is given and validates it. Any
// failure leaves the session disconnected; the error carries the cause.
func (e *Engine) Connect(ctx context.Context, credential, name string) (bool, error) {
	project := e.session.ProjectSlug
	if project == "" {
		project = DefaultProject
	}
	e.session = Session{ProjectSlug: project}
	if credential == "" {
		resolved, src, err := e.Resolver.Resolve("", name)
		if err != nil {
			e.logger().Warn("no credential found", "name", name, "checked", "env, keystore")
			return false, err
		}
		e.logger().Debug("credential resolved", "source", src, "key", keys.Redact(resolved))
		credential = resolved
	}
	info, err := e.Backend.ValidateKey(ctx, credential)
	if err != nil {
		e.logger().Warn("connect failed", "key", keys.Redact(credential), "error", err)
		return false, err
	}
	e.session = Session{
		Credential:   credential,
		IdentityName: info.ClaudeName,
		TeamID:       info.TeamID,
		UserID:       info.UserID,
		ProjectSlug:  project,
		Connected:    true,
	}
	e.logger().Info("connected", "name", info.ClaudeName, "team", info.TeamID)
	return true, nil
}

// EnsureConnected makes one connect attempt when the session is not
// established. It never retries.
func (e *Engine) EnsureConnected(ctx context.Context) error {
	if e.session.Connected {
		return nil
	}
	if _, err := e.Connect(ctx, e.Credential, e.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// SetProject switches the routing key. The slug is not checked remotely.
func (e *Engine) SetProject(slug string) {
	e.session.ProjectSlug = slug
}

// Session returns a copy of the current session.
func (e *Engine) Session() Session {
	return e.session
}

func (e *Engine) String() string {
	if e.session.Connected {
		return fmt.Sprintf("<colab '%s' connected>", e.session.IdentityName)
	}
	return "<colab disconnected>"
}

// keyBody starts an RPC body carrying the session credential.
func (e *Engine) keyBody() map[string]any {
	return map[string]any{"p_api_key": e.session.Credential}
}
