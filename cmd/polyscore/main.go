package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"polyscore/internal/app"
	"polyscore/internal/config"
	"polyscore/internal/db"
	"polyscore/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "polyscore",
	Short: "Polyscore CLI",
	Long: `Polyscore runs the timed polygon annotation game and scores attempts against ground truth.
- Session: one player's annotation mode. The countdown starts on the first point.
- Closing: Enter or a quick second click closes a polygon of 3+ points.
- Scoring: IoU against the best-matching ground-truth object; perfect at 99.99%.
- Results: every closed or timed-out attempt lands in the workspace ledger (.polyscore/polyscore.db).
- Event log: session and attempt events, view with 'polyscore log tail'.`,
	SilenceUsage: true,
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
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("POLYSCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "rotating JSON log file")
	flags.String("jwt-secret", "", "HS256 secret for player tokens")
	flags.String("assets-dir", "", "directory relative ground-truth and image paths resolve against")
	flags.String("ground-truth-url", "", "ground truth loaded on annotation-mode entry")
	for _, name := range []string{"workspace", "json", "log-level", "log-file", "jwt-secret", "assets-dir", "ground-truth-url"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(gtCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(resultsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(replayCmd())
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				authCfg := server.AuthConfig{
					JWTSecret:      viper.GetString("jwt-secret"),
					Issuer:         cfg.Auth.Issuer,
					AllowAnonymous: cfg.Auth.AllowAnonymous,
					Logger:         rt.Logger.With("component", "auth"),
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowAnonymous {
					return fmt.Errorf("POLYSCORE_JWT_SECRET is required unless auth.allow_anonymous is set")
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: cfg.Server.BasePath,
					Auth:     authCfg,
					Logger:   rt.Logger.With("component", "http"),
				})
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				server.StartWebhookDispatcher(ctx, rt.Engine, rt.Logger)
				go rt.Engine.RunPruner(ctx, time.Minute)

				srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				rt.Logger.Info("serving", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath, "anonymous", cfg.Auth.AllowAnonymous)
				fmt.Printf("Serving Polyscore API on http://%s%s (OpenAPI at %s, Swagger UI at /docs)\n",
					cfg.Server.Addr, cfg.Server.BasePath, path.Join(cfg.Server.BasePath, "openapi.json"))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	cmd.Flags().String("base-path", "", "API base path (default from config)")
	cmd.Flags().Bool("allow-anonymous", false, "accept requests without credentials")
	cmd.Flags().Int("timeout-ms", 0, "drawing time budget in milliseconds")
	cmd.Flags().String("image", "", "annotation image used to size sessions")
	for _, name := range []string{"addr", "base-path", "allow-anonymous", "timeout-ms", "image"} {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in polyscore.yml in the workspace. Missing keys fall back to defaults; flags and POLYSCORE_* variables override file values.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default polyscore.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(p); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", p)
			}
			if err := os.WriteFile(p, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// --- helpers ---

func overridesFromFlags() app.Overrides {
	o := app.Overrides{
		GroundTruthURL: viper.GetString("ground-truth-url"),
		AssetsDir:      viper.GetString("assets-dir"),
		ImageSource:    viper.GetString("image"),
		Addr:           viper.GetString("addr"),
		BasePath:       viper.GetString("base-path"),
		LogLevel:       viper.GetString("log-level"),
		LogFile:        viper.GetString("log-file"),
		TimeoutMS:      viper.GetInt("timeout-ms"),
	}
	if viper.IsSet("allow-anonymous") {
		v := viper.GetBool("allow-anonymous")
		o.AllowAnonymous = &v
	}
	return o
}

func loadConfig() (*config.Config, error) {
	return app.LoadConfig(viper.GetString("workspace"), overridesFromFlags())
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer cleanup()
	rt, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
