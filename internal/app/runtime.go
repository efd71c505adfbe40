package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"polyscore/internal/config"
	"polyscore/internal/db"
	"polyscore/internal/engine"
	"polyscore/internal/migrate"
)

// Overrides are flag or environment values layered over polyscore.yml. Zero
// values leave the file setting alone.
type Overrides struct {
	GroundTruthURL string
	AssetsDir      string
	ImageSource    string
	Addr           string
	BasePath       string
	LogLevel       string
	LogFile        string
	TimeoutMS      int
	AllowAnonymous *bool
}

// LoadConfig reads the workspace config (defaults when absent), applies
// overrides and resolves relative paths against the workspace.
func LoadConfig(workspace string, o Overrides) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	apply(cfg, o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.GroundTruth.AssetsDir = resolve(workspace, cfg.GroundTruth.AssetsDir)
	if cfg.Log.File != "" {
		cfg.Log.File = resolve(workspace, cfg.Log.File)
	}
	return cfg, nil
}

func apply(cfg *config.Config, o Overrides) {
	if o.GroundTruthURL != "" {
		cfg.GroundTruth.ModeURL = o.GroundTruthURL
	}
	if o.AssetsDir != "" {
		cfg.GroundTruth.AssetsDir = o.AssetsDir
	}
	if o.ImageSource != "" {
		cfg.Image.Source = o.ImageSource
	}
	if o.Addr != "" {
		cfg.Server.Addr = o.Addr
	}
	if o.BasePath != "" {
		cfg.Server.BasePath = o.BasePath
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFile != "" {
		cfg.Log.File = o.LogFile
	}
	if o.TimeoutMS > 0 {
		cfg.Game.TimeoutMS = o.TimeoutMS
	}
	if o.AllowAnonymous != nil {
		cfg.Auth.AllowAnonymous = *o.AllowAnonymous
	}
}

func resolve(workspace, p string) string {
	if p == "" {
		p = "."
	}
	if filepath.IsAbs(p) {
		return p
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, p)
}

// Runtime bundles the open database and the engine built on it.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Logger    *slog.Logger
}

// Open opens and migrates the workspace database and builds the engine.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(ctx, workspace)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	applied, err := migrate.MigrateContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("applied migrations", "versions", applied)
	}
	return &Runtime{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    engine.New(conn, cfg, logger.With("component", "engine")),
		Logger:    logger,
	}, nil
}

// Close cancels pending countdowns and closes the database.
func (r *Runtime) Close() error {
	r.Engine.Shutdown()
	return r.DB.Close()
}
