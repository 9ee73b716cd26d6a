package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"colab/internal/app"
	"colab/internal/domain"
	"colab/internal/events"
	"colab/internal/migrate"
)

func withEmulator(ctx context.Context, fn func(context.Context, *app.Emulator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	em, err := app.OpenEmulator(ctx, viper.GetString("workspace"), cfg, newLogger())
	if err != nil {
		return err
	}
	defer em.Close()
	return fn(ctx, em)
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local backend emulator",
		Long: `serve exposes the REST and RPC surface agents talk to, backed by SQLite in
.colab/colab.db. Set server.jwt_secret or COLAB_JWT_SECRET, then mint a
project key with "colab admin anon-key" and a credential with
"colab admin create-key".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEmulator(cmd.Context(), func(ctx context.Context, em *app.Emulator) error {
				handler, err := em.Handler()
				if err != nil {
					return err
				}
				if addr == "" {
					addr = em.Config.Server.Addr
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				version, err := migrate.Version(ctx, em.DB)
				if err != nil {
					return err
				}
				fmt.Printf("Serving colab backend for team %s on http://%s (OpenAPI at /openapi)\n", em.Team.Name, addr)
				fmt.Printf("Database %s, schema v%d\n", em.Path, version)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func adminCmd() *cobra.Command {
	adm := &cobra.Command{Use: "admin", Short: "Administer the local emulator database"}
	adm.AddCommand(adminAnonKeyCmd())
	adm.AddCommand(adminCreateKeyCmd())
	adm.AddCommand(adminListKeysCmd())
	adm.AddCommand(adminCreateProjectCmd())
	adm.AddCommand(adminWorkLogCmd())
	return adm
}

func adminAnonKeyCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "anon-key",
		Short: "Mint a project key for backend.anon_key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEmulator(cmd.Context(), func(ctx context.Context, em *app.Emulator) error {
				key, err := em.AnonKey(role)
				if err != nil {
					return err
				}
				fmt.Println(key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "anon", "key role (anon|service_role)")
	return cmd
}

func adminCreateKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create-key",
		Short: "Issue an agent credential; it is shown only once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEmulator(cmd.Context(), func(ctx context.Context, em *app.Emulator) error {
				cred, key, err := em.Repo.CreateAPIKey(ctx, em.Team.ID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"credential": cred, "key": key})
				}
				fmt.Printf("Credential for %s (store it now, it is not shown again):\n%s\n", key.ClaudeName, cred)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name")
	return cmd
}

func adminListKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-keys",
		Short: "List the team's credentials by prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEmulator(cmd.Context(), func(ctx context.Context, em *app.Emulator) error {
				items, err := em.Repo.ListAPIKeys(ctx, em.Team.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Name", "Prefix", "User", "Created")
				for _, k := range items {
					tw.AppendRow([]any{k.ClaudeName, k.KeyPrefix + "...", k.UserID, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func adminCreateProjectCmd() *cobra.Command {
	var slug, name, desc string
	cmd := &cobra.Command{
		Use:   "create-project",
		Short: "Create a project in the team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if slug == "" {
				return fmt.Errorf("--slug required")
			}
			return withEmulator(cmd.Context(), func(ctx context.Context, em *app.Emulator) error {
				p, err := em.Repo.InsertProject(ctx, em.Team.ID, domain.Project{Slug: slug, Name: name, Description: desc})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&slug, "slug", "", "project slug")
	cmd.Flags().StringVar(&name, "name", "", "display name (default slug)")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	return cmd
}

func adminWorkLogCmd() *cobra.Command {
	var instance string
	var n int
	cmd := &cobra.Command{
		Use:   "work-log",
		Short: "Show an instance's work log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if instance == "" {
				return fmt.Errorf("--instance required")
			}
			return withEmulator(cmd.Context(), func(ctx context.Context, em *app.Emulator) error {
				inst, err := em.Repo.GetInstanceByName(ctx, em.Team.ID, instance)
				if err != nil {
					return fmt.Errorf("instance %s: %w", instance, err)
				}
				entries, err := events.Writer{DB: em.DB}.List(ctx, inst.ID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable("Time", "Action", "Project", "Details")
				for _, e := range entries {
					tw.AppendRow([]any{e.TS, e.Action, e.ProjectID, e.Details})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&instance, "instance", "", "instance name")
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}
