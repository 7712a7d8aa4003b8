// Package config loads the bot configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"zombidef.ai/internal/protocol"
)

const (
	TestServerURL = "https://games-test.datsteam.dev"
	LiveServerURL = "https://games.datsteam.dev"
)

type Config struct {
	BaseURL       string `yaml:"base_url"`
	Game          string `yaml:"game"`
	DataDir       string `yaml:"data_dir"`
	StateFile     string `yaml:"state_file"`
	HTTPTimeoutMs int    `yaml:"http_timeout_ms"`

	RateLimit RateLimit `yaml:"rate_limit"`
	Scheduler Scheduler `yaml:"scheduler"`
	Recording Recording `yaml:"recording"`
	Status    Status    `yaml:"status"`
}

type RateLimit struct {
	MaxRequests int `yaml:"max_requests"`
	WindowMs    int `yaml:"window_ms"`
}

type Scheduler struct {
	JoinWindowSec       int `yaml:"join_window_sec"`
	JoinBackoffMs       int `yaml:"join_backoff_ms"`
	IdleWaitMs          int `yaml:"idle_wait_ms"`
	FetchRetryDelayMs   int `yaml:"fetch_retry_delay_ms"`
	FetchRetryWindowSec int `yaml:"fetch_retry_window_sec"`
	CycleBackoffMs      int `yaml:"cycle_backoff_ms"`
	TurnSkewMs          int `yaml:"turn_skew_ms"`
}

type Recording struct {
	TurnLog      bool `yaml:"turn_log"`
	IndexDB      bool `yaml:"index_db"`
	KeepTurnLogs int  `yaml:"keep_turn_logs"`
}

type Status struct {
	Listen string `yaml:"listen"`
}

func Defaults() Config {
	return Config{
		BaseURL:       TestServerURL,
		Game:          protocol.DefaultGame,
		DataDir:       "./data",
		HTTPTimeoutMs: 10000,
		RateLimit: RateLimit{
			// The service allows 4 requests per second; stay one below for latency jitter.
			MaxRequests: 3,
			WindowMs:    1000,
		},
		Scheduler: Scheduler{
			JoinWindowSec:       300,
			JoinBackoffMs:       1000,
			IdleWaitMs:          10000,
			FetchRetryDelayMs:   1700,
			FetchRetryWindowSec: 240,
			CycleBackoffMs:      1000,
			TurnSkewMs:          2,
		},
		Recording: Recording{
			TurnLog:      true,
			IndexDB:      true,
			KeepTurnLogs: 20,
		},
		Status: Status{
			Listen: "127.0.0.1:8095",
		},
	}
}

// Load reads path over Defaults. An empty path, or a path that does not exist when
// optional is set, returns the defaults.
func Load(path string, optional bool) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
		case os.IsNotExist(err) && optional:
		default:
			return cfg, err
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("ZD_BASE_URL")); v != "" {
		c.BaseURL = v
	}
	if v, ok := os.LookupEnv("ZD_STATUS_LISTEN"); ok {
		c.Status.Listen = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv("ZD_DATA_DIR")); v != "" {
		c.DataDir = v
	}
}

// Normalize fills zero values from Defaults and derives dependent paths.
func (c *Config) Normalize() {
	d := Defaults()
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if strings.TrimSpace(c.Game) == "" {
		c.Game = d.Game
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = d.DataDir
	}
	if strings.TrimSpace(c.StateFile) == "" {
		c.StateFile = filepath.Join(c.DataDir, "state.json")
	}
	if c.HTTPTimeoutMs <= 0 {
		c.HTTPTimeoutMs = d.HTTPTimeoutMs
	}
	if c.RateLimit.MaxRequests <= 0 {
		c.RateLimit.MaxRequests = d.RateLimit.MaxRequests
	}
	if c.RateLimit.WindowMs <= 0 {
		c.RateLimit.WindowMs = d.RateLimit.WindowMs
	}

	s := &c.Scheduler
	ds := d.Scheduler
	if s.JoinWindowSec <= 0 {
		s.JoinWindowSec = ds.JoinWindowSec
	}
	if s.JoinBackoffMs <= 0 {
		s.JoinBackoffMs = ds.JoinBackoffMs
	}
	if s.IdleWaitMs <= 0 {
		s.IdleWaitMs = ds.IdleWaitMs
	}
	if s.FetchRetryDelayMs <= 0 {
		s.FetchRetryDelayMs = ds.FetchRetryDelayMs
	}
	if s.FetchRetryWindowSec <= 0 {
		s.FetchRetryWindowSec = ds.FetchRetryWindowSec
	}
	if s.CycleBackoffMs <= 0 {
		s.CycleBackoffMs = ds.CycleBackoffMs
	}
	if s.TurnSkewMs < 0 {
		s.TurnSkewMs = 0
	}
	if c.Recording.KeepTurnLogs < 0 {
		c.Recording.KeepTurnLogs = 0
	}
}

func (c Config) Validate() error {
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url must be http(s): %q", c.BaseURL)
	}
	if strings.ContainsAny(c.Game, "/ ") {
		return fmt.Errorf("bad game slug: %q", c.Game)
	}
	if c.RateLimit.MaxRequests > 4 {
		return fmt.Errorf("rate_limit.max_requests=%d exceeds the service limit of 4/s", c.RateLimit.MaxRequests)
	}
	if c.Scheduler.FetchRetryDelayMs >= c.Scheduler.FetchRetryWindowSec*1000 {
		return fmt.Errorf("scheduler.fetch_retry_delay_ms must be shorter than the retry window")
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c Config) HTTPTimeout() time.Duration { return ms(c.HTTPTimeoutMs) }
func (r RateLimit) Window() time.Duration  { return ms(r.WindowMs) }

func (s Scheduler) JoinWindow() time.Duration       { return time.Duration(s.JoinWindowSec) * time.Second }
func (s Scheduler) JoinBackoff() time.Duration      { return ms(s.JoinBackoffMs) }
func (s Scheduler) IdleWait() time.Duration         { return ms(s.IdleWaitMs) }
func (s Scheduler) FetchRetryDelay() time.Duration  { return ms(s.FetchRetryDelayMs) }
func (s Scheduler) FetchRetryWindow() time.Duration { return time.Duration(s.FetchRetryWindowSec) * time.Second }
func (s Scheduler) CycleBackoff() time.Duration     { return ms(s.CycleBackoffMs) }
func (s Scheduler) TurnSkew() time.Duration         { return ms(s.TurnSkewMs) }

func (c Config) TurnLogDir() string { return filepath.Join(c.DataDir, "turns") }
func (c Config) IndexDBPath() string { return filepath.Join(c.DataDir, "index.sqlite") }
