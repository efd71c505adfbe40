package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the workspace config file.
const FileName = "polyscore.yml"

// Config models polyscore.yml.
type Config struct {
	Game struct {
		TimeoutMS        int        `yaml:"timeout_ms" json:"timeout_ms"`
		DoubleClickMS    int        `yaml:"double_click_ms" json:"double_click_ms"`
		PerfectThreshold float64    `yaml:"perfect_threshold" json:"perfect_threshold"`
		Zoom             ZoomConfig `yaml:"zoom" json:"zoom"`
	} `yaml:"game" json:"game"`
	GroundTruth struct {
		DefaultURL     string `yaml:"default_url" json:"default_url"`
		ModeURL        string `yaml:"mode_url" json:"mode_url"`
		AssetsDir      string `yaml:"assets_dir" json:"assets_dir"`
		FetchTimeoutMS int    `yaml:"fetch_timeout_ms" json:"fetch_timeout_ms"`
		// AllowedURLs lists the payloads a session may request instead of
		// mode_url. Empty means sessions always use mode_url.
		AllowedURLs []string `yaml:"allowed_urls,omitempty" json:"allowed_urls,omitempty"`
	} `yaml:"ground_truth" json:"ground_truth"`
	Image struct {
		Source string `yaml:"source" json:"source"`
		Width  int    `yaml:"width,omitempty" json:"width,omitempty"`
		Height int    `yaml:"height,omitempty" json:"height,omitempty"`
	} `yaml:"image" json:"image"`
	Server struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
	Auth struct {
		AllowAnonymous bool   `yaml:"allow_anonymous" json:"allow_anonymous"`
		Issuer         string `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	} `yaml:"auth" json:"auth"`
	Sessions struct {
		TTLSeconds  int `yaml:"ttl_seconds" json:"ttl_seconds"`
		MaxSessions int `yaml:"max_sessions" json:"max_sessions"`
	} `yaml:"sessions" json:"sessions"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file,omitempty" json:"file,omitempty"`
		MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	} `yaml:"log" json:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type ZoomConfig struct {
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
	Step float64 `yaml:"step" json:"step"`
}

// WebhookConfig is one outbound event subscription. An empty Events list
// subscribes to everything.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"-"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

var knownEvents = map[string]struct{}{
	"session.started":   {},
	"session.restarted": {},
	"session.left":      {},
	"attempt.closed":    {},
	"attempt.timed_out": {},
}

var knownLevels = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "error": {}}

// GroundTruthAllowed reports whether a session may load url instead of the
// mode URL.
func (c *Config) GroundTruthAllowed(url string) bool {
	url = strings.TrimSpace(url)
	return url == c.GroundTruth.ModeURL || slices.Contains(c.GroundTruth.AllowedURLs, url)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Game.TimeoutMS <= 0 {
		return fmt.Errorf("config.game.timeout_ms must be positive")
	}
	if c.Game.DoubleClickMS <= 0 {
		return fmt.Errorf("config.game.double_click_ms must be positive")
	}
	if c.Game.DoubleClickMS >= c.Game.TimeoutMS {
		return fmt.Errorf("config.game.double_click_ms must be shorter than timeout_ms")
	}
	if c.Game.PerfectThreshold <= 0 || c.Game.PerfectThreshold > 1 {
		return fmt.Errorf("config.game.perfect_threshold must be in (0, 1]")
	}
	z := c.Game.Zoom
	if z.Min <= 0 || z.Max < z.Min {
		return fmt.Errorf("config.game.zoom requires 0 < min <= max")
	}
	if z.Step <= 0 {
		return fmt.Errorf("config.game.zoom.step must be positive")
	}
	if strings.TrimSpace(c.GroundTruth.DefaultURL) == "" {
		return fmt.Errorf("config.ground_truth.default_url is required")
	}
	if strings.TrimSpace(c.GroundTruth.ModeURL) == "" {
		return fmt.Errorf("config.ground_truth.mode_url is required")
	}
	if c.GroundTruth.FetchTimeoutMS < 0 {
		return fmt.Errorf("config.ground_truth.fetch_timeout_ms must not be negative")
	}
	if c.Image.Width < 0 || c.Image.Height < 0 {
		return fmt.Errorf("config.image size must not be negative")
	}
	if (c.Image.Width == 0) != (c.Image.Height == 0) {
		return fmt.Errorf("config.image.width and height must be set together")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Sessions.TTLSeconds <= 0 {
		return fmt.Errorf("config.sessions.ttl_seconds must be positive")
	}
	if c.Sessions.MaxSessions < 0 {
		return fmt.Errorf("config.sessions.max_sessions must not be negative")
	}
	if _, ok := knownLevels[strings.ToLower(c.Log.Level)]; !ok {
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be http(s)", i)
		}
		for _, evt := range hook.Events {
			if _, ok := knownEvents[evt]; !ok {
				return fmt.Errorf("config.webhooks[%d] subscribes to unknown event %s", i, evt)
			}
		}
	}
	return nil
}

// Timeout is the drawing budget.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Game.TimeoutMS) * time.Millisecond
}

// DoubleClickWindow is the gap under which a second click closes the polygon.
func (c *Config) DoubleClickWindow() time.Duration {
	return time.Duration(c.Game.DoubleClickMS) * time.Millisecond
}

// FetchTimeout bounds ground-truth retrieval.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.GroundTruth.FetchTimeoutMS) * time.Millisecond
}

// SessionTTL is how long an idle session is kept.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with polyscore config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses config from raw YAML bytes over the defaults, so a file
// only needs the keys it changes, and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `game:
  timeout_ms: 7000
  double_click_ms: 300
  perfect_threshold: 0.9999
  zoom:
    min: 1
    max: 3
    step: 0.1

ground_truth:
  default_url: assets/ground_truth_polygons.json
  mode_url: assets/animal_segmentation_gt.json
  assets_dir: .
  fetch_timeout_ms: 5000
  # allowed_urls:
  #   - assets/other_segmentation_gt.json

image:
  source: assets/annotation.png

server:
  addr: 127.0.0.1:8080
  base_path: /v0

auth:
  allow_anonymous: false

sessions:
  ttl_seconds: 900
  max_sessions: 1000

log:
  level: info
  max_size_mb: 10
  max_backups: 3
`
