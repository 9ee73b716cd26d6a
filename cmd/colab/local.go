package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"colab/internal/app"
	"colab/internal/engine/auth"
	"colab/internal/keys"
	"colab/internal/settings"
)

func settingsCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "settings",
		Short: "Read and patch an agent's settings.json",
		Long: `Settings live at <paths.bots>/<NAME>/settings.json.
Writes given --as MANAGER are refused unless MANAGER outranks the agent.
Without --as no rank check is made.`,
	}
	s.PersistentFlags().String("as", "", "manager name to check rank against")
	s.AddCommand(settingsShowCmd())
	s.AddCommand(settingsSetCmd())
	s.AddCommand(settingsRuleCmd())
	s.AddCommand(settingsTodosCmd())
	return s
}

func manager(cmd *cobra.Command) string {
	as, _ := cmd.Flags().GetString("as")
	return as
}

func settingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print an agent's settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				doc, ok := c.Settings.Read(args[0])
				if !ok {
					return fmt.Errorf("no settings for %s", args[0])
				}
				return printJSON(doc)
			})
		},
	}
}

func settingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <json-object>",
		Short: "Merge a JSON object into an agent's settings",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch settings.Document
			if err := json.Unmarshal([]byte(args[1]), &patch); err != nil {
				return fmt.Errorf("patch must be a JSON object: %w", err)
			}
			return withLocal(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if err := c.Settings.Write(args[0], patch, manager(cmd)); err != nil {
					return err
				}
				return printOK(true, "Settings updated")
			})
		},
	}
}

func settingsRuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rule <name> <rule>",
		Short: "Add a rule unless it is already present",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if err := c.Settings.AddRule(args[0], strings.Join(args[1:], " "), manager(cmd)); err != nil {
					return err
				}
				return printOK(true, "Rule added")
			})
		},
	}
}

func settingsTodosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "todos <name> <todo>...",
		Short: "Replace an agent's startup todos",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			todos := make([]settings.Todo, 0, len(args)-1)
			for _, content := range args[1:] {
				todos = append(todos, settings.Todo{Content: content, Status: "pending", ActiveForm: content})
			}
			return withLocal(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if err := c.Settings.SetTodos(args[0], todos, manager(cmd)); err != nil {
					return err
				}
				return printOK(true, fmt.Sprintf("%d todos set", len(todos)))
			})
		},
	}
}

func keystoreCmd() *cobra.Command {
	ks := &cobra.Command{Use: "keystore", Short: "Local credential vending machine"}
	ks.AddCommand(keystoreVendCmd())
	ks.AddCommand(keystoreStockCmd())
	ks.AddCommand(keystoreListCmd())
	return ks
}

func keystoreVendCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "vend <name>",
		Short: "Show the stored credential for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				key, ok := c.Keystore.Vend(args[0])
				if !ok {
					return fmt.Errorf("no key stocked for %s", args[0])
				}
				if !reveal {
					key = keys.Redact(key)
				}
				fmt.Println(key)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the full credential")
	return cmd
}

func keystoreStockCmd() *cobra.Command {
	var requester string
	cmd := &cobra.Command{
		Use:   "stock <name> <credential>",
		Short: "Store a credential; --requester must validate first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if err := c.Keystore.Stock(ctx, args[0], args[1], requester); err != nil {
					return err
				}
				return printOK(true, "Key stocked")
			})
		},
	}
	cmd.Flags().StringVar(&requester, "requester", "", "credential vouching for the write")
	return cmd
}

func keystoreListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents with a stocked credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				names := c.Keystore.Names()
				sort.Strings(names)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"names": names, "updated": c.Keystore.Updated()})
				}
				tw := newTable("Name", "Role")
				for _, n := range names {
					tw.AppendRow([]any{n, c.Roles.RoleOf(n)})
				}
				tw.Render()
				if u := c.Keystore.Updated(); u != "" {
					fmt.Printf("updated %s\n", u)
				}
				return nil
			})
		},
	}
}

func rolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "Show the role table, highest rank first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				rows := roleRows(c.Roles)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"you": c.Identity(), "roles": c.Roles.Members()})
				}
				fmt.Printf("You: %s\n", c.Identity())
				tw := newTable("Name", "Role")
				for _, r := range rows {
					tw.AppendRow(r)
				}
				tw.Render()
				return nil
			})
		},
	}
}

// roleRows orders the hierarchy's members by rank, then name.
func roleRows(h auth.Hierarchy) []table.Row {
	members := h.Members()
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := members[names[i]].Rank(), members[names[j]].Rank()
		if ri != rj {
			return ri > rj
		}
		return names[i] < names[j]
	})
	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		rows = append(rows, table.Row{name, string(members[name])})
	}
	return rows
}

func buddyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buddy <name> <credential>",
		Short: "Stock a peer's credential, vouched for by my own",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				ok, err := c.Engine.HelpBuddy(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printOK(ok, "Buddy key stocked")
			})
		},
	}
}
