package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Discord struct {
		Token string `mapstructure:"token"`
	} `mapstructure:"discord"`
	State struct {
		ChannelID    string        `mapstructure:"channel_id"`
		Backend      string        `mapstructure:"backend"`
		Debounce     time.Duration `mapstructure:"debounce"`
		HistoryLimit int           `mapstructure:"history_limit"`
	} `mapstructure:"state"`
	Notify struct {
		DefaultChannelID string        `mapstructure:"default_channel_id"`
		Interval         time.Duration `mapstructure:"interval"`
		TelegramToken    string        `mapstructure:"telegram_token"`
		TelegramChatID   string        `mapstructure:"telegram_chat_id"`
	} `mapstructure:"notify"`
	Data struct {
		Dir    string `mapstructure:"dir"`
		DBPath string `mapstructure:"db_path"`
	} `mapstructure:"data"`
	HTTP struct {
		Addr     string `mapstructure:"addr"`
		APIToken string `mapstructure:"api_token"`
	} `mapstructure:"http"`
	Wplace struct {
		Endpoint       string        `mapstructure:"endpoint"`
		BrowserEnabled bool          `mapstructure:"browser_enabled"`
		BrowserTimeout time.Duration `mapstructure:"browser_timeout"`
		HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
		ChromePath     string        `mapstructure:"chrome_path"`
	} `mapstructure:"wplace"`
	Resolver struct {
		MaxAccounts int `mapstructure:"max_accounts"`
		Concurrency int `mapstructure:"concurrency"`
	} `mapstructure:"resolver"`
	Display struct {
		Timezone string `mapstructure:"timezone"`
	} `mapstructure:"display"`
	Retention struct {
		Days     int    `mapstructure:"days"`
		Schedule string `mapstructure:"schedule"`
	} `mapstructure:"retention"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// Snapshot backends.
const (
	BackendDiscord = "discord"
	BackendSQLite  = "sqlite"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("discord.token", "")
	v.SetDefault("state.channel_id", "")
	v.SetDefault("state.backend", BackendDiscord)
	v.SetDefault("state.debounce", time.Second)
	v.SetDefault("state.history_limit", 50)
	v.SetDefault("notify.default_channel_id", "")
	v.SetDefault("notify.interval", 60*time.Second)
	v.SetDefault("notify.telegram_token", "")
	v.SetDefault("notify.telegram_chat_id", "")
	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.db_path", "")
	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.api_token", "")
	v.SetDefault("wplace.endpoint", "https://backend.wplace.live/me")
	v.SetDefault("wplace.browser_enabled", true)
	v.SetDefault("wplace.browser_timeout", 30*time.Second)
	v.SetDefault("wplace.http_timeout", 15*time.Second)
	v.SetDefault("wplace.chrome_path", "")
	v.SetDefault("resolver.max_accounts", 20)
	v.SetDefault("resolver.concurrency", 0)
	v.SetDefault("display.timezone", "Asia/Tokyo")
	v.SetDefault("retention.days", 14)
	v.SetDefault("retention.schedule", "@every 6h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads defaults, then the optional file at path, then the environment.
// Nested keys map to upper-case variables with underscores (STATE_CHANNEL_ID).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("discord.token", "DISCORD_TOKEN")
	_ = v.BindEnv("notify.telegram_token", "NOTIFY_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("notify.telegram_chat_id", "NOTIFY_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("wplacebot")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	// PORT is what hosting platforms hand out; it wins over http.addr.
	if port := v.GetString("port"); port != "" {
		cfg.HTTP.Addr = ":" + port
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) normalize() {
	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))
	if c.Data.DBPath == "" {
		c.Data.DBPath = filepath.Join(c.Data.Dir, "wplacebot.db")
	}
}

func (c Config) Validate() error {
	switch c.State.Backend {
	case BackendDiscord, BackendSQLite:
	default:
		return fmt.Errorf("state.backend must be %q or %q, got %q", BackendDiscord, BackendSQLite, c.State.Backend)
	}
	if c.Resolver.MaxAccounts <= 0 {
		return errors.New("resolver.max_accounts must be positive")
	}
	if _, err := time.LoadLocation(c.Display.Timezone); err != nil {
		return fmt.Errorf("display.timezone: %w", err)
	}
	return nil
}

// Location resolves the display time zone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Display.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
