package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"colab/internal/app"
	"colab/internal/config"
	"colab/internal/domain"
	"colab/internal/engine"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Projects (channels)"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectUseCmd())
	prj.AddCommand(projectSummaryCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the team's projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				projects, err := c.Engine.Projects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := newTable("Slug", "Name", "Messages", "Description")
				for _, p := range projects {
					tw.AppendRow([]any{p.Slug, p.Name, p.MessageCount, p.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <slug>",
		Short: "Set the default project in colab.yml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := strings.TrimSpace(args[0])
			if slug == "" {
				return fmt.Errorf("project slug is required")
			}
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			cfg.Identity.Project = slug
			if err := config.Save(workspace, cfg); err != nil {
				return err
			}
			fmt.Printf("Set identity.project=%s in %s\n", slug, config.Path(workspace))
			return nil
		},
	}
}

func projectSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary [slug]",
		Short: "Who is on a project and how its tasks stand",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := ""
			if len(args) == 1 {
				slug = args[0]
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				sum, err := c.Engine.ProjectSummary(ctx, slug)
				if err != nil {
					return err
				}
				return printJSONOrTable(sum)
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Shared tasks"}
	task.AddCommand(taskPostCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskClaimCmd())
	task.AddCommand(taskFinishCmd("complete", "Mark a task done", func(ctx context.Context, e *engine.Engine, id, text string) (bool, error) {
		return e.CompleteTask(ctx, id, text)
	}))
	task.AddCommand(taskFinishCmd("fail", "Mark a task failed", func(ctx context.Context, e *engine.Engine, id, text string) (bool, error) {
		return e.FailTask(ctx, id, text)
	}))
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskPostCmd() *cobra.Command {
	var to string
	var priority int
	cmd := &cobra.Command{
		Use:   "post <description>",
		Short: "Post a pending task to the current project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				ok, err := c.Engine.PostTask(ctx, strings.Join(args, " "), to, priority)
				if err != nil {
					return err
				}
				return printOK(ok, "Task posted")
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "assignee name")
	cmd.Flags().IntVar(&priority, "priority", 5, "priority")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status string
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the team's tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				tasks, err := c.Engine.ListTasks(ctx, status)
				if err != nil {
					return err
				}
				if mine {
					name := c.Engine.Session().IdentityName
					filtered := tasks[:0]
					for _, t := range tasks {
						if t.IsAssignedTo(name) {
							filtered = append(filtered, t)
						}
					}
					tasks = filtered
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable("ID", "Task", "Status", "Priority", "Project", "Assigned", "Claimed", "Posted By")
				for _, t := range tasks {
					tw.AppendRow([]any{t.ID, t.Task, t.Status, t.Priority, t.ProjectSlug, deref(t.AssignedTo), deref(t.ClaimedBy), t.PostedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter ("+strings.Join(domain.TaskStatuses, ", ")+")")
	cmd.Flags().BoolVar(&mine, "mine", false, "only tasks assigned to me")
	return cmd
}

func taskClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				ok, err := c.Engine.ClaimTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printOK(ok, "Task claimed")
			})
		},
	}
}

func taskFinishCmd(use, short string, fn func(context.Context, *engine.Engine, string, string) (bool, error)) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				ok, err := fn(ctx, c.Engine, args[0], text)
				if err != nil {
					return err
				}
				return printOK(ok, "Task updated")
			})
		},
	}
	cmd.Flags().StringVar(&text, "result", "", "result or failure reason")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				ok, err := c.Engine.DeleteTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printOK(ok, "Task deleted")
			})
		},
	}
}

func chatCmd() *cobra.Command {
	chat := &cobra.Command{Use: "chat", Short: "Project chat"}
	chat.AddCommand(chatSendCmd())
	chat.AddCommand(chatReadCmd())
	chat.AddCommand(chatMentionsCmd())
	chat.AddCommand(chatUrgentCmd())
	chat.AddCommand(chatChannelsCmd())
	return chat
}

func chatChannelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List project slugs usable as chat channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				slugs, err := c.Engine.Channels(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(slugs)
				}
				for _, slug := range slugs {
					fmt.Println(slug)
				}
				return nil
			})
		},
	}
}

func chatSendCmd() *cobra.Command {
	var urgent bool
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Post to the current project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				ok, err := c.Engine.Chat(ctx, strings.Join(args, " "), urgent)
				if err != nil {
					return err
				}
				return printOK(ok, "Sent")
			})
		},
	}
	cmd.Flags().BoolVar(&urgent, "urgent", false, "flag as urgent")
	return cmd
}

func printMessages(msgs []domain.ChatMessage) error {
	if viper.GetBool("json") {
		return printJSON(msgs)
	}
	for _, m := range msgs {
		flag := ""
		if m.Urgent {
			flag = " [URGENT]"
		}
		fmt.Printf("%s %s%s: %s\n", m.CreatedAt, m.Author, flag, m.Message)
	}
	return nil
}

func chatReadCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Latest messages, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				msgs, err := c.Engine.GetChat(ctx, limit)
				if err != nil {
					return err
				}
				return printMessages(msgs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", engine.DefaultChatLimit, "messages to read")
	return cmd
}

func chatMentionsCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "mentions",
		Short: "Messages that mention me",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				msgs, err := c.Engine.NewMentionsSince(ctx, since)
				if err != nil {
					return err
				}
				return printMessages(msgs)
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only mentions after this message id")
	return cmd
}

func chatUrgentCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "urgent",
		Short: "Urgent messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				msgs, err := c.Engine.Urgent(ctx, limit)
				if err != nil {
					return err
				}
				return printMessages(msgs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "messages to read")
	return cmd
}

func heartbeatCmd() *cobra.Command {
	var opts engine.HeartbeatOptions
	var workingOn string
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Announce presence and check for mentions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("working-on") {
				opts.WorkingOn = &workingOn
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				res, err := c.Engine.Heartbeat(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Heartbeat sent (%d mentions", res.Mentions)
				if len(res.MentionProjects) > 0 {
					fmt.Printf(" in %s", strings.Join(res.MentionProjects, ", "))
				}
				fmt.Println(")")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", domain.PresenceActive, "presence status ("+strings.Join(domain.PresenceStatuses, ", ")+")")
	cmd.Flags().StringVar(&workingOn, "working-on", "", "what I am working on; empty clears it")
	cmd.Flags().BoolVar(&opts.SkipMentions, "skip-mentions", false, "do not scan for mentions")
	return cmd
}

func onlineCmd() *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "online",
		Short: "Who has sent a heartbeat recently",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				records, err := c.Engine.WhoOnline(ctx, minutes)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := newTable("Name", "Status", "Project", "Working On", "Minutes Ago")
				for _, r := range records {
					tw.AppendRow([]any{r.ClaudeName, r.Status, r.CurrentProject, r.WorkingOn, r.MinutesAgo})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 5, "online threshold in minutes")
	return cmd
}

func checkpointCmd() *cobra.Command {
	var opts engine.CheckpointOptions
	cmd := &cobra.Command{
		Use:   "checkpoint <label>",
		Short: "Gate on unread mentions and pending tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				res, err := c.Engine.Checkpoint(ctx, args[0], opts)
				if viper.GetBool("json") {
					if perr := printJSON(res); perr != nil {
						return perr
					}
				} else if res.Passed {
					fmt.Printf("Checkpoint %s passed\n", args[0])
				} else {
					for _, b := range res.Blockers {
						fmt.Printf("blocker: %s\n", b)
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Hard, "hard", false, "exit non-zero when blocked")
	cmd.Flags().BoolVar(&opts.CheckTasks, "tasks", false, "also block on pending tasks assigned to me")
	cmd.Flags().BoolVar(&opts.SkipMentions, "skip-mentions", false, "do not block on mentions")
	return cmd
}

func knowledgeCmd() *cobra.Command {
	k := &cobra.Command{Use: "knowledge", Short: "Shared knowledge"}
	k.AddCommand(knowledgeShareCmd())
	k.AddCommand(knowledgeListCmd("search <query>", "Search knowledge content", true))
	k.AddCommand(knowledgeListCmd("recent", "Latest knowledge", false))
	k.AddCommand(knowledgeUpdateCmd())
	k.AddCommand(knowledgeDeleteCmd())
	return k
}

func knowledgeShareCmd() *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "share <content>",
		Short: "Share a lesson with the team",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				ok, err := c.Engine.Share(ctx, strings.Join(args, " "), tags)
				if err != nil {
					return err
				}
				return printOK(ok, "Shared")
			})
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags")
	return cmd
}

func knowledgeListCmd(use, short string, search bool) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if search && len(args) == 0 {
				return fmt.Errorf("query is required")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				var (
					items []domain.Knowledge
					err   error
				)
				if search {
					items, err = c.Engine.Search(ctx, strings.Join(args, " "), limit)
				} else {
					items, err = c.Engine.Recent(ctx, limit)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Author", "Content", "Tags", "Created")
				for _, k := range items {
					tw.AppendRow([]any{k.ID, k.Author, k.Content, strings.Join(k.Tags, ","), k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum entries")
	return cmd
}

func knowledgeUpdateCmd() *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "update <id> <content>",
		Short: "Replace an entry's content",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("tag") {
				tags = nil
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				ok, err := c.Engine.UpdateKnowledge(ctx, args[0], strings.Join(args[1:], " "), tags)
				if err != nil {
					return err
				}
				return printOK(ok, "Updated")
			})
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags")
	return cmd
}

func knowledgeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				ok, err := c.Engine.DeleteKnowledge(ctx, args[0])
				if err != nil {
					return err
				}
				return printOK(ok, "Deleted")
			})
		},
	}
}

func inviteCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "invite <email>",
		Short: "Invite someone to the team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				res, err := c.Engine.Invite(ctx, args[0], role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Invite sent: %s\n", res.InviteURL)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "member", "member or owner")
	return cmd
}

func logWorkCmd() *cobra.Command {
	var details map[string]string
	cmd := &cobra.Command{
		Use:       "log-work <action>",
		Short:     "Record a work action on my instance",
		Args:      cobra.ExactArgs(1),
		ValidArgs: engine.WorkActions,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				d := make(map[string]any, len(details))
				for k, v := range details {
					d[k] = v
				}
				ok, err := c.Engine.LogWork(ctx, args[0], d)
				if err != nil {
					return err
				}
				return printOK(ok, "Logged")
			})
		},
	}
	cmd.Flags().StringToStringVar(&details, "detail", nil, "details as key=value")
	return cmd
}
