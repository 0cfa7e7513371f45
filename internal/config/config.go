package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "squire.yaml"

type Bot struct {
	Username string `yaml:"username" env:"SQUIRE_BOT_USERNAME"`
	Token    string `yaml:"token" env:"SQUIRE_BOT_TOKEN"`
	BaseURL  string `yaml:"base_url" env:"SQUIRE_BASE_URL"`
	WSURL    string `yaml:"ws_url" env:"SQUIRE_WS_URL"`
}

type Engine struct {
	Path       string `yaml:"path" env:"SQUIRE_ENGINE_PATH"`
	Depth      int    `yaml:"depth" env:"SQUIRE_ENGINE_DEPTH"`
	Threads    int    `yaml:"threads" env:"SQUIRE_ENGINE_THREADS"`
	HashMB     int    `yaml:"hash_mb" env:"SQUIRE_ENGINE_HASH_MB"`
	MinThinkMS int    `yaml:"min_think_ms" env:"SQUIRE_ENGINE_MIN_THINK_MS"`
	MaxThinkMS int    `yaml:"max_think_ms" env:"SQUIRE_ENGINE_MAX_THINK_MS"`
}

type Policy struct {
	Speeds             []string `yaml:"speeds" env:"SQUIRE_POLICY_SPEEDS"`
	Variants           []string `yaml:"variants" env:"SQUIRE_POLICY_VARIANTS"`
	AcceptRated        bool     `yaml:"accept_rated" env:"SQUIRE_POLICY_ACCEPT_RATED"`
	MaxDailyBotGames   int      `yaml:"max_daily_bot_games" env:"SQUIRE_POLICY_MAX_DAILY_BOT_GAMES"`
	MaxConcurrentGames int      `yaml:"max_concurrent_games" env:"SQUIRE_POLICY_MAX_CONCURRENT_GAMES"`
}

type Idle struct {
	Seconds       int      `yaml:"seconds" env:"SQUIRE_IDLE_SECONDS"`
	Priority      []string `yaml:"priority" env:"SQUIRE_IDLE_PRIORITY"`
	Speed         string   `yaml:"speed" env:"SQUIRE_IDLE_SPEED"`
	SeekLimit     int      `yaml:"seek_limit" env:"SQUIRE_IDLE_SEEK_LIMIT"`
	SeekIncrement int      `yaml:"seek_increment" env:"SQUIRE_IDLE_SEEK_INCREMENT"`
	Rated         bool     `yaml:"rated" env:"SQUIRE_IDLE_RATED"`
	Variant       string   `yaml:"variant" env:"SQUIRE_IDLE_VARIANT"`
	PendingTTLSec int      `yaml:"pending_ttl_sec" env:"SQUIRE_IDLE_PENDING_TTL_SEC"`
}

type Stats struct {
	Path        string `yaml:"path" env:"SQUIRE_STATS_PATH"`
	Cap         int    `yaml:"cap" env:"SQUIRE_STATS_CAP"`
	RedisURL    string `yaml:"redis_url" env:"SQUIRE_REDIS_URL"`
	DatabaseURL string `yaml:"database_url" env:"SQUIRE_DATABASE_URL"`
}

type Log struct {
	Level      string `yaml:"level" env:"SQUIRE_LOG_LEVEL"`
	Format     string `yaml:"format" env:"SQUIRE_LOG_FORMAT"`
	Console    bool   `yaml:"console" env:"SQUIRE_LOG_CONSOLE"`
	File       string `yaml:"file" env:"SQUIRE_LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"SQUIRE_LOG_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"SQUIRE_LOG_MAX_BACKUPS"`
	GameDir    string `yaml:"game_dir" env:"SQUIRE_LOG_GAME_DIR"`
}

type Config struct {
	Bot      Bot    `yaml:"bot"`
	Engine   Engine `yaml:"engine"`
	Policy   Policy `yaml:"policy"`
	Idle     Idle   `yaml:"idle"`
	Stats    Stats  `yaml:"stats"`
	Log      Log    `yaml:"log"`
	Greeting string `yaml:"greeting" env:"SQUIRE_GREETING"`
}

func Default() *Config {
	return &Config{
		Bot: Bot{
			BaseURL: "https://chessarena.io",
			WSURL:   "wss://chessarena.io",
		},
		Engine: Engine{
			Path:       "/usr/bin/stockfish",
			Depth:      15,
			HashMB:     256,
			MinThinkMS: 100,
			MaxThinkMS: 10000,
		},
		Policy: Policy{
			Speeds:             []string{"blitz", "rapid"},
			Variants:           []string{"standard"},
			AcceptRated:        true,
			MaxDailyBotGames:   20,
			MaxConcurrentGames: 4,
		},
		Idle: Idle{
			Seconds:       60,
			Priority:      []string{"tournament", "seek"},
			Speed:         "blitz",
			SeekLimit:     300,
			SeekIncrement: 5,
			Rated:         false,
			Variant:       "standard",
			PendingTTLSec: 600,
		},
		Stats: Stats{
			Path: "stats.json",
			Cap:  1000,
		},
		Log: Log{
			Level:      "info",
			Format:     "console",
			Console:    true,
			File:       "logs/squire.log",
			MaxSizeMB:  1,
			MaxBackups: 5,
			GameDir:    "logs/games",
		},
		Greeting: "Good luck, have fun!",
	}
}

// Load reads the YAML file at path, then applies environment overrides.
// Defaults apply to every key the file omits.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Bot.Username = strings.TrimSpace(c.Bot.Username)
	c.Bot.Token = strings.TrimSpace(c.Bot.Token)
	c.Bot.BaseURL = strings.TrimRight(strings.TrimSpace(c.Bot.BaseURL), "/")
	c.Bot.WSURL = strings.TrimRight(strings.TrimSpace(c.Bot.WSURL), "/")
	c.Policy.Speeds = normalizeList(c.Policy.Speeds)
	c.Policy.Variants = normalizeList(c.Policy.Variants)
	c.Idle.Priority = normalizeList(c.Idle.Priority)
	c.Idle.Speed = strings.ToLower(strings.TrimSpace(c.Idle.Speed))
	c.Idle.Variant = strings.ToLower(strings.TrimSpace(c.Idle.Variant))
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		s := strings.ToLower(strings.TrimSpace(v))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Bot.Username == "" {
		return errors.New("bot.username is required")
	}
	if c.Bot.Token == "" {
		return errors.New("bot.token is required")
	}
	if c.Bot.BaseURL == "" {
		return errors.New("bot.base_url is required")
	}
	if c.Bot.WSURL == "" {
		return errors.New("bot.ws_url is required")
	}
	if c.Engine.Path == "" {
		return errors.New("engine.path is required")
	}
	if c.Engine.MinThinkMS <= 0 || c.Engine.MaxThinkMS < c.Engine.MinThinkMS {
		return errors.New("engine think bounds are invalid")
	}
	if len(c.Policy.Speeds) == 0 {
		return errors.New("policy.speeds must not be empty")
	}
	if len(c.Policy.Variants) == 0 {
		return errors.New("policy.variants must not be empty")
	}
	if c.Policy.MaxConcurrentGames <= 0 {
		return errors.New("policy.max_concurrent_games must be positive")
	}
	if c.Stats.Cap <= 0 {
		return errors.New("stats.cap must be positive")
	}
	for _, p := range c.Idle.Priority {
		if p != "tournament" && p != "seek" {
			return fmt.Errorf("idle.priority: unknown action %q", p)
		}
	}
	return nil
}

const sample = `# squire configuration
bot:
  # Account the bot plays as. Register it on the platform first.
  username: ""
  token: ""
  base_url: https://chessarena.io
  ws_url: wss://chessarena.io

engine:
  # Path to a UCI engine binary, e.g. stockfish.
  path: /usr/bin/stockfish
  depth: 15
  # 0 means one thread per CPU.
  threads: 0
  hash_mb: 256
  min_think_ms: 100
  max_think_ms: 10000

policy:
  speeds: [blitz, rapid]
  variants: [standard]
  accept_rated: true
  max_daily_bot_games: 20
  max_concurrent_games: 4

idle:
  seconds: 60
  priority: [tournament, seek]
  speed: blitz
  seek_limit: 300
  seek_increment: 5
  rated: false
  variant: standard
  pending_ttl_sec: 600

stats:
  path: stats.json
  cap: 1000
  # Optional: keep the ledger in redis instead of a file.
  redis_url: ""
  # Optional: archive finished games with PGN to postgres.
  database_url: ""

log:
  level: info
  format: console
  console: true
  file: logs/squire.log
  max_size_mb: 1
  max_backups: 5
  game_dir: logs/games

greeting: "Good luck, have fun!"
`

// WriteSample writes a commented starter config. Fails if path exists.
func WriteSample(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(sample); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
