package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goyaml "gopkg.in/yaml.v3"
)

const DefaultPath = "config/local.yaml"

type Config struct {
	BotToken     string       `yaml:"bot_token"`
	DBPath       string       `yaml:"db_path"`
	AdminIDs     []int64      `yaml:"admin_ids"`
	Timezone     string       `yaml:"timezone"`
	Web          Web          `yaml:"web"`
	Conversation Conversation `yaml:"conversation"`
	Auth         Auth         `yaml:"auth"`
	Digest       Digest       `yaml:"digest"`
	Log          Log          `yaml:"log"`
}

type Web struct {
	Listen        string        `yaml:"listen"`
	PublicURL     string        `yaml:"public_url"`
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	// RateLimit is submissions per second per client IP; 0 disables it.
	RateLimit float64 `yaml:"rate_limit"`
}

type Conversation struct {
	TTL time.Duration `yaml:"ttl"`
}

type Auth struct {
	MaxAge time.Duration `yaml:"max_age"`
}

type Digest struct {
	Enabled bool   `yaml:"enabled"`
	Weekday string `yaml:"weekday"`
	Hour    int    `yaml:"hour"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func Default() *Config {
	return &Config{
		DBPath: "data/reports.db",
		Web: Web{
			Listen:     ":8080",
			SessionTTL: 7 * 24 * time.Hour,
			RateLimit:  5,
		},
		Conversation: Conversation{TTL: 30 * time.Minute},
		Digest:       Digest{Weekday: "friday", Hour: 18},
		Log:          Log{Level: "info"},
	}
}

// Load reads the YAML file at path, applies env overrides and validates the
// result. A missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := goyaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.BotToken, "BOT_TOKEN")
	set(&c.DBPath, "DB_PATH")
	set(&c.Timezone, "TZ")
	set(&c.Web.Listen, "WEB_LISTEN")
	set(&c.Web.PublicURL, "PUBLIC_URL")
	set(&c.Web.SessionSecret, "SESSION_SECRET")
	set(&c.Log.Level, "LOG_LEVEL")
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}
	if c.Conversation.TTL < 0 {
		errs = append(errs, errors.New("conversation.ttl must not be negative"))
	}
	if c.Auth.MaxAge < 0 {
		errs = append(errs, errors.New("auth.max_age must not be negative"))
	}
	if c.Web.RateLimit < 0 {
		errs = append(errs, errors.New("web.rate_limit must not be negative"))
	}
	if _, err := c.DigestWeekday(); err != nil {
		errs = append(errs, err)
	}
	if c.Digest.Hour < 0 || c.Digest.Hour > 23 {
		errs = append(errs, errors.New("digest.hour must be in 0..23"))
	}
	return errors.Join(errs...)
}

// RequireBotToken fails when no token is configured. Only commands that talk
// to Telegram or verify its signatures need one.
func (c *Config) RequireBotToken() error {
	if strings.TrimSpace(c.BotToken) == "" {
		return errors.New("bot_token is required")
	}
	return nil
}

// SessionKey is the HMAC key for web sessions, falling back to the bot token.
func (c *Config) SessionKey() []byte {
	if c.Web.SessionSecret != "" {
		return []byte(c.Web.SessionSecret)
	}
	return []byte(c.BotToken)
}

func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) DigestWeekday() (time.Weekday, error) {
	w := strings.ToLower(strings.TrimSpace(c.Digest.Weekday))
	if w == "" {
		return time.Friday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == w {
			return d, nil
		}
	}
	return 0, fmt.Errorf("digest.weekday: unknown day %q", c.Digest.Weekday)
}

func (c *Config) IsAdmin(externalID int64) bool {
	for _, id := range c.AdminIDs {
		if id == externalID {
			return true
		}
	}
	return false
}
