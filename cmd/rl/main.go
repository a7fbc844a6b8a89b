package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"raciline/internal/app"
	"raciline/internal/config"
	"raciline/internal/db"
	"raciline/internal/engine"
	"raciline/internal/logging"
	"raciline/internal/migrate"
	"raciline/internal/repo"
	"raciline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "raciline RACI workshop CLI",
	Long: `raciline runs RACI workshops: who is Responsible, Accountable, Consulted and Informed for each activity.
- Template: the roles, activities and recommended RACI defaults a workshop starts from ('rl template import').
- Workshop: one facilitation session on a template with its scope, role mapping, assignments, decisions and actions.
- Gaps: ownership problems such as a missing or duplicated Accountable, flagged as danger or warning.
- Score: RACI coverage and the completion gate; the gate must be met to finalize or to export the final pack.
- Event log: every change is audited, view it with 'rl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Setup(viper.GetString("log-level"))
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RACILINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("workshop", "", "workshop id (overrides the current workshop)")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	for _, name := range []string{"workspace", "json", "actor-id", "workshop", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(workshopCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(gapsCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace rules",
		Long:  "Config holds the gap rules, the completion gate threshold, the report limit and webhooks. It is stored in the workspace database and seeded from raciline.yml on first use.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				data, err := e.Config.YAML()
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ImportConfig(ctx, cfg, viper.GetString("actor-id")); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				fmt.Printf("config imported from %s\n", file)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "config file (default <workspace>/raciline.yml)")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		Long:  "Creates an API key bound to --actor-id. The key is printed once; only its hash is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plain, k, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": k.ID, "actor_id": k.ActorID, "name": k.Name, "key": plain})
				}
				fmt.Printf("API key for %s (store it now, it is not shown again):\n%s\n", k.ActorID, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	key.AddCommand(create)
	return key
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	var all bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.EventFilters{Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n}
				if !all {
					// scoped to the current workshop when one is set
					if id, err := app.CurrentWorkshop(viper.GetString("workspace"), viper.GetString("workshop")); err == nil {
						f.WorkshopID = id
					}
				}
				items, err := e.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Workshop", "Entity", "Actor"})
				for _, evt := range items {
					entity := evt.EntityKind
					if evt.EntityID != "" {
						entity += ":" + evt.EntityID
					}
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.WorkshopID, entity, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.Flags().BoolVar(&all, "all", false, "include every workshop")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				log := logging.WithModule("server")
				authCfg := server.AuthConfig{
					JWTSecret:              os.Getenv("RACILINE_JWT_SECRET"),
					AllowLegacyActorHeader: legacyHeader,
					EnableDevLogin:         devLogin,
					Logger:                 logging.WithModule("auth"),
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("RACILINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: log})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, e, logging.WithModule("webhooks"))
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.Info("listening", "addr", addr, "base_path", basePath)
				fmt.Printf("Serving raciline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept the unauthenticated X-Actor-Id header")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST <base-path>/auth/dev/login (local testing only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn, Log: logging.WithModule("repo")}
	cfg, err := app.ResolveConfig(ctx, workspace, r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

// withWorkshop resolves the current workshop before running fn.
func withWorkshop(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	id, err := app.CurrentWorkshop(viper.GetString("workspace"), viper.GetString("workshop"))
	if err != nil {
		return err
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		return fn(ctx, e, id)
	})
}

func actorID() string {
	return viper.GetString("actor-id")
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
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

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}
