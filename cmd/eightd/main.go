package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"eightd/internal/app"
	"eightd/internal/config"
	"eightd/internal/db"
	"eightd/internal/domain"
	"eightd/internal/engine"
	"eightd/internal/events"
	"eightd/internal/export"
	"eightd/internal/migrate"
	"eightd/internal/repo"
	"eightd/internal/report"
	"eightd/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "eightd",
	Short: "8D problem-solving reports",
	Long: `eightd manages 8D problem-solving reports from the command line.
A report walks the eight disciplines D1-D8: assemble the team, describe the
problem (5W2H), contain it, find the root cause (five whys and a fishbone),
fix it, verify the fix, prevent recurrence, and recognise the team.
Every change is appended to an event log; 'eightd log tail' shows it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("EIGHTD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("app-id", "local", "application id for the report namespace")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("app-id", rootCmd.PersistentFlags().Lookup("app-id"))
}

func registerCommands() {
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(disciplineCmd())
	rootCmd.AddCommand(fieldCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(whysCmd())
	rootCmd.AddCommand(fishboneCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Manage reports"}
	rep.AddCommand(reportCreateCmd())
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	rep.AddCommand(reportUseCmd())
	rep.AddCommand(reportDeleteCmd())
	return rep
}

func reportCreateCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rep, err := e.CreateReport(ctx, title, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "report title (defaults to a dated title)")
	return cmd
}

func reportListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListReports(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Discipline", "Created By", "Updated"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Title, r.CurrentDiscipline, r.CreatedBy, r.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func reportShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <report-id>",
		Short: "Show a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rep, err := e.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	return cmd
}

func reportUseCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "use <report-id>",
		Short: "Open a report's workspace",
		Long: `Open a report for editing and print it, resuming at its last-viewed
discipline. With --watch the workspace stays open and prints each event
for the report until interrupted; deleting the report from anywhere
closes the workspace.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				sess := app.NewSession(e, viper.GetString("actor-id"))
				defer sess.Close()
				closed := make(chan struct{})
				if watch {
					sess.OnEvent(func(n events.Notification) {
						if n.Type == engine.EventReportDeleted {
							fmt.Fprintln(cmd.OutOrStdout(), "report deleted, leaving workspace")
							close(closed)
							return
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", n.Type, n.ReportID)
					})
				}
				rep, err := sess.OpenReport(ctx, args[0])
				if err != nil {
					return err
				}
				if !watch {
					return printJSONOrTable(rep)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "workspace: %s (%s)\n", rep.ID, rep.CurrentDiscipline.Title())
				sig, stop := signal.NotifyContext(ctx, os.Interrupt)
				defer stop()
				select {
				case <-sig.Done():
				case <-closed:
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "stay in the workspace and print report events")
	return cmd
}

func reportDeleteCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <report-id>",
		Short: "Delete a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("permanently delete report %s?", args[0])) {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.DeleteReport(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete without asking")
	return cmd
}

// confirm asks a yes/no question and reports whether the answer was yes.
// EOF or anything other than y/yes counts as no.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true
	}
	return false
}

func disciplineCmd() *cobra.Command {
	d := &cobra.Command{Use: "discipline", Short: "Discipline navigation"}
	d.AddCommand(&cobra.Command{
		Use:   "set <report-id> <D1..D8>",
		Short: "Move a report to a discipline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				d, err := domain.ParseDiscipline(args[1])
				if err != nil {
					return err
				}
				rep, err := e.SetDiscipline(ctx, args[0], d, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("%s -> %s (%s)\n", rep.ID, rep.CurrentDiscipline, rep.CurrentDiscipline.Title())
				return nil
			})
		},
	})
	d.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the eight disciplines",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, d := range domain.Disciplines() {
				fmt.Println(d.Title())
			}
			return nil
		},
	})
	return d
}

func fieldCmd() *cobra.Command {
	f := &cobra.Command{Use: "field", Short: "Report fields"}
	f.AddCommand(&cobra.Command{
		Use:   "set <report-id> <path> <value>",
		Short: "Set a field by dotted path",
		Long:  "Set a scalar field by dotted path, e.g. 'field set <id> d2_problem.what \"pump fails\"'.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				_, err := e.SetPath(ctx, args[0], args[1], args[2], viper.GetString("actor-id"))
				return err
			})
		},
	})
	f.AddCommand(&cobra.Command{
		Use:   "paths",
		Short: "List settable field paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range report.KnownPaths() {
				fmt.Println(p)
			}
			return nil
		},
	})
	return f
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "D1 team members"}
	var name, role string
	add := &cobra.Command{
		Use:   "add <report-id>",
		Short: "Add a team member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rep, err := e.AddTeamMember(ctx, args[0], domain.TeamMember{Name: name, Role: role}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep.D1Team)
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "member name")
	add.Flags().StringVar(&role, "role", "", "member role")
	team.AddCommand(add)
	team.AddCommand(&cobra.Command{
		Use:   "remove <report-id> <position>",
		Short: "Remove a team member by position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("position must be a number: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rep, err := e.RemoveTeamMember(ctx, args[0], pos, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep.D1Team)
			})
		},
	})
	return team
}

func actionCmd() *cobra.Command {
	action := &cobra.Command{Use: "action", Short: "D3/D5 action items"}
	var act, responsible, date string
	var corrective, verified bool
	add := &cobra.Command{
		Use:   "add <report-id>",
		Short: "Add an action item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if act == "" {
				return fmt.Errorf("--action required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				item := domain.ActionItem{Action: act, Responsible: responsible, Date: date, Verified: verified}
				rep, err := e.AddActionItem(ctx, args[0], corrective, item, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if corrective {
					return printJSONOrTable(rep.D5Corrective)
				}
				return printJSONOrTable(rep.D3Containment)
			})
		},
	}
	add.Flags().StringVar(&act, "action", "", "what to do")
	add.Flags().StringVar(&responsible, "responsible", "", "who does it")
	add.Flags().StringVar(&date, "date", "", "target date")
	add.Flags().BoolVar(&verified, "verified", false, "mark verified")
	add.Flags().BoolVar(&corrective, "corrective", false, "D5 corrective action instead of D3 containment")
	action.AddCommand(add)
	remove := &cobra.Command{
		Use:   "remove <report-id> <position>",
		Short: "Remove an action item by position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("position must be a number: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				_, err := e.RemoveActionItem(ctx, args[0], corrective, pos, viper.GetString("actor-id"))
				return err
			})
		},
	}
	remove.Flags().BoolVar(&corrective, "corrective", false, "D5 corrective action instead of D3 containment")
	action.AddCommand(remove)
	return action
}

func whysCmd() *cobra.Command {
	whys := &cobra.Command{Use: "whys", Short: "D4 five-whys chain"}
	whys.AddCommand(&cobra.Command{
		Use:   "add <report-id>",
		Short: "Append an empty why",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rep, err := e.AddWhy(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep.D4RootCause.FiveWhys)
			})
		},
	})
	whys.AddCommand(&cobra.Command{
		Use:   "set <report-id> <position> <text>",
		Short: "Set the why at a position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("position must be a number: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rep, err := e.SetWhy(ctx, args[0], pos, args[2], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep.D4RootCause.FiveWhys)
			})
		},
	})
	return whys
}

func fishboneCmd() *cobra.Command {
	fish := &cobra.Command{Use: "fishbone", Short: "D4 fishbone categories"}
	fish.AddCommand(&cobra.Command{
		Use:   "set <report-id> <category> <cause> [cause...]",
		Short: "Replace the causes of one category",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rep, err := e.SetFishbone(ctx, args[0], domain.FishboneCategory(args[1]), args[2:], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep.D4RootCause.Fishbone)
			})
		},
	})
	fish.AddCommand(&cobra.Command{
		Use:   "categories",
		Short: "List the six categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, c := range domain.FishboneCategories() {
				fmt.Println(c)
			}
			return nil
		},
	})
	return fish
}

func exportCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export <report-id>",
		Short: "Export a report as plain text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rep, err := e.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				if dir == "" {
					if e.Config != nil && e.Config.Export.Dir != "" {
						dir = e.Config.Export.Dir
					} else {
						dir = "exports"
					}
				}
				path, err := export.NewHandle(dir, rep).Write(rep)
				if err != nil {
					return err
				}
				fmt.Println(path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "export directory (defaults to config)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveConfig()
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Store a YAML config in the workspace database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.FromFile(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				appID := c.App.ID
				if appID == "" {
					appID = viper.GetString("app-id")
				}
				if err := r.UpsertAppConfig(ctx, appID, c); err != nil {
					return err
				}
				fmt.Println("imported config for", appID)
				return nil
			})
		},
	})
	return cfg
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entityKind := ""
				if entityID != "" {
					entityKind = engine.EntityReport
				}
				events, err := e.Repo.LatestEvents(ctx, n, "", evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Report", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityID, "report", "", "report id filter")
	logc.AddCommand(tail)
	return logc
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:      os.Getenv("EIGHTD_JWT_SECRET"),
				AllowAnonymous: cfg.Auth.AllowAnonymous,
			}
			if !authCfg.AllowAnonymous && authCfg.JWTSecret == "" {
				return fmt.Errorf("EIGHTD_JWT_SECRET is required when anonymous access is off")
			}
			handler, err := server.New(server.Config{
				Engine:    e,
				BasePath:  basePath,
				Auth:      authCfg,
				ExportDir: cfg.Export.Dir,
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving 8D report API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func resolveConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(viper.GetString("app-id"))
	}
	return cfg, nil
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
