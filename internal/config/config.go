package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/fortuna/lheq/internal/divisions"
	"github.com/fortuna/lheq/internal/gamefile"
)

const (
	// DefaultConfigFile is read when present and no explicit path is given.
	DefaultConfigFile = "lheq.yaml"

	envConfigPath = "LHEQ_CONFIG"
)

// Config holds the settings shared by every lheq subcommand.
type Config struct {
	GamesDir              string               `yaml:"games_dir" env:"LHEQ_GAMES_DIR"`
	WebDir                string               `yaml:"web_dir" env:"LHEQ_WEB_DIR"`
	GamesIndexPath        string               `yaml:"games_index" env:"LHEQ_GAMES_INDEX"`
	TournamentScheduleIDs []int64              `yaml:"tournament_schedule_ids" env:"LHEQ_TOURNAMENT_SCHEDULE_IDS" envSeparator:","`
	FairPlayMaxPIM        int                  `yaml:"fair_play_max_pim" env:"LHEQ_FAIR_PLAY_MAX_PIM"`
	Divisions             []divisions.Division `yaml:"divisions"`

	Logos  LogoConfig   `yaml:"logos" envPrefix:"LHEQ_LOGO_"`
	Log    LogConfig    `yaml:"log" envPrefix:"LHEQ_LOG_"`
	Server ServerConfig `yaml:"server" envPrefix:"LHEQ_SERVER_"`

	DatabaseDSN string `yaml:"database_dsn" env:"LHEQ_DATABASE_DSN"`
	RedisURL    string `yaml:"redis_url" env:"LHEQ_REDIS_URL"`
}

// LogoConfig tunes team logo downloads.
type LogoConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	RequestsPerSec float64       `yaml:"requests_per_sec" env:"RPS"`
	Concurrency    int           `yaml:"concurrency" env:"CONCURRENCY"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	UserAgent      string        `yaml:"user_agent" env:"USER_AGENT"`
	RenderJS       bool          `yaml:"render_js" env:"RENDER_JS"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// ServerConfig configures `lheq serve`.
type ServerConfig struct {
	Port            string        `yaml:"port" env:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	WatchDebounce   time.Duration `yaml:"watch_debounce" env:"WATCH_DEBOUNCE"`
}

// Default returns the configuration the league scripts have always used.
func Default() Config {
	return Config{
		GamesDir:              "web/data/games",
		WebDir:                "web",
		GamesIndexPath:        "web/data/games.json",
		TournamentScheduleIDs: append([]int64(nil), gamefile.DefaultTournamentScheduleIDs...),
		FairPlayMaxPIM:        12,
		Divisions: []divisions.Division{
			{Name: "L'Entrepôt du Hockey"},
			{Name: "Hockey Experts"},
			{Name: "Sports Rousseau"},
		},
		Logos: LogoConfig{
			Enabled:        true,
			RequestsPerSec: 2,
			Concurrency:    4,
			Timeout:        15 * time.Second,
			UserAgent:      "lheq-stats/1.0",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 5 * time.Second,
			WatchDebounce:   300 * time.Millisecond,
		},
	}
}

// Load layers defaults, the YAML file and environment variables. An empty
// path falls back to $LHEQ_CONFIG, then to lheq.yaml when that file exists.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if p := os.Getenv(envConfigPath); p != "" {
			path, explicit = p, true
		} else {
			path = DefaultConfigFile
		}
	}

	if err := loadFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings no subcommand can run with.
func (c Config) Validate() error {
	var errs []error
	if c.GamesDir == "" {
		errs = append(errs, errors.New("games_dir is required"))
	}
	if c.WebDir == "" {
		errs = append(errs, errors.New("web_dir is required"))
	}
	if c.GamesIndexPath == "" {
		errs = append(errs, errors.New("games_index is required"))
	}
	if c.FairPlayMaxPIM < 0 {
		errs = append(errs, errors.New("fair_play_max_pim must not be negative"))
	}
	if c.Logos.Concurrency < 1 {
		errs = append(errs, errors.New("logos.concurrency must be at least 1"))
	}
	if c.Logos.RequestsPerSec <= 0 {
		errs = append(errs, errors.New("logos.requests_per_sec must be positive"))
	}
	seen := make(map[string]struct{}, len(c.Divisions))
	for _, d := range c.Divisions {
		if d.Name == "" {
			errs = append(errs, errors.New("division name is required"))
			continue
		}
		if _, ok := seen[d.Name]; ok {
			errs = append(errs, fmt.Errorf("division %q listed twice", d.Name))
		}
		seen[d.Name] = struct{}{}
	}
	return errors.Join(errs...)
}
