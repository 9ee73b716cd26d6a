package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"colab/internal/app"
	"colab/internal/config"
	"colab/internal/keys"
)

var rootCmd = &cobra.Command{
	Use:   "colab",
	Short: "Coordinate a swarm of agents",
	Long: `colab lets agents share knowledge, hand each other tasks and see who is around,
all through one shared backend.
- Identity: every agent has a NAME and a credential (cc_...). Credentials are found in
  --key, CLAUDE_COLAB_KEY_<NAME>, CLAUDE_COLAB_KEY, then the local keystore.
- Project: the channel tasks, chat and heartbeats are routed to (default claude-colab).
- Tasks: pending -> claimed -> done|failed. Only one agent wins a claim.
- Mentions: chat messages containing @NAME. Unread mentions block checkpoints.
- Checkpoints: a soft checkpoint warns, a hard one exits non-zero.
- Roles: supervisor > manager > worker > grunt > bot; only a higher rank may edit an
  agent's settings when --as is given.
- serve: a local SQLite stand-in for the backend, for development and tests.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("COLAB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory (holds colab.yml and .colab/)")
	flags.String("config", "", "config file (default <workspace>/colab.yml)")
	flags.Bool("json", false, "output JSON")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.String("name", "", "agent name (overrides identity.name)")
	flags.String("key", "", "agent credential (skips the resolver)")
	flags.String("project", "", "project slug (overrides identity.project)")
	flags.String("backend-url", "", "backend url (overrides backend.url)")
	flags.String("anon-key", "", "backend anon key (overrides backend.anon_key)")
	for _, name := range []string{"workspace", "config", "json", "verbose", "name", "key", "project", "backend-url", "anon-key"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(heartbeatCmd())
	rootCmd.AddCommand(onlineCmd())
	rootCmd.AddCommand(checkpointCmd())
	rootCmd.AddCommand(knowledgeCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(keystoreCmd())
	rootCmd.AddCommand(rolesCmd())
	rootCmd.AddCommand(buddyCmd())
	rootCmd.AddCommand(inviteCmd())
	rootCmd.AddCommand(logWorkCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(adminCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default colab.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(viper.GetString("name"))), 0o600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Validate the credential and show the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if _, err := c.Engine.Connect(ctx, c.Engine.Credential, c.Engine.Name); err != nil {
					return err
				}
				s := c.Engine.Session()
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"claude_name": s.IdentityName,
						"team_id":     s.TeamID,
						"user_id":     s.UserID,
						"project":     s.ProjectSlug,
						"role":        c.Roles.RoleOf(s.IdentityName),
						"key":         keys.Redact(s.Credential),
					})
				}
				fmt.Printf("Connected as %s (%s) on team %s, project %s\n",
					s.IdentityName, c.Roles.RoleOf(s.IdentityName), s.TeamID, s.ProjectSlug)
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the session, knowledge and tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if err := c.Engine.EnsureConnected(ctx); err != nil {
					return err
				}
				rep, err := c.Engine.Status(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
}

// --- helpers ---

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func overrides() app.Overrides {
	return app.Overrides{
		Name:       viper.GetString("name"),
		Key:        viper.GetString("key"),
		Project:    viper.GetString("project"),
		BackendURL: viper.GetString("backend-url"),
		AnonKey:    viper.GetString("anon-key"),
	}
}

func withClient(ctx context.Context, fn func(context.Context, *app.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	slog.SetDefault(logger)
	c, err := app.NewClient(cfg, overrides(), logger)
	if err != nil {
		return err
	}
	return fn(ctx, c)
}

// withLocal is withClient for commands that never call the backend. A
// configured backend is still wired so keystore writes can be vouched for.
func withLocal(ctx context.Context, fn func(context.Context, *app.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	slog.SetDefault(logger)
	c, err := app.NewClient(cfg, overrides(), logger)
	if errors.Is(err, app.ErrNoBackend) {
		c, err = app.NewLocal(cfg, overrides(), logger)
	}
	if err != nil {
		return err
	}
	return fn(ctx, c)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	rows, err := fieldRows(v)
	if err != nil {
		return err
	}
	tw := newTable("Field", "Value")
	for _, r := range rows {
		tw.AppendRow(r)
	}
	tw.Render()
	return nil
}

// fieldRows flattens v's JSON object into sorted field/value rows. Nested
// values are shown as compact JSON.
func fieldRows(v any) ([]table.Row, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return []table.Row{{"value", string(b)}}, nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		val := fields[name]
		switch val.(type) {
		case nil:
			val = ""
		case map[string]any, []any:
			raw, _ := json.Marshal(val)
			val = string(raw)
		}
		rows = append(rows, table.Row{name, val})
	}
	return rows, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func printOK(ok bool, msg string) error {
	if viper.GetBool("json") {
		return printJSON(map[string]bool{"ok": ok})
	}
	fmt.Println(msg)
	return nil
}
