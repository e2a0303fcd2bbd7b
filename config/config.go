package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	DB        DBConfig        `toml:"database"`
	Strfry    StrfryConfig    `toml:"strfry"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Policy    PolicyConfig    `toml:"policy"`
	Lists     ListsConfig     `toml:"lists"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Flood     FloodConfig     `toml:"flood"`
	Content   ContentConfig   `toml:"content"`
}

type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

func (l *LogLevel) UnmarshalText(text []byte) error {
	v := string(text)
	switch LogLevel(v) {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		*l = LogLevel(v)
		return nil
	default:
		return fmt.Errorf("invalid log.level: %q (must be debug, info, warn, error)", v)
	}
}

func (l LogLevel) String() string { return string(l) }

func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type LogConfig struct {
	Level           LogLevel            `toml:"level"`
	RejectionLevels map[string]LogLevel `toml:"rejection_levels"`
}

type DBConfig struct {
	Path string `toml:"path"`
}

type StrfryConfig struct {
	ExecutablePath string        `toml:"executable_path"`
	ConfigPath     string        `toml:"config_path"`
	PurgeOnBan     bool          `toml:"purge_on_ban"`
	DeleteTimeout  time.Duration `toml:"delete_timeout"`
}

type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type PolicyConfig struct {
	// WritesOnly accepts non-write requests (type != "new") without running
	// the filter stages, so read traffic is never rate-limited or scanned.
	WritesOnly bool `toml:"writes_only"`
}

// Verdict actions a filter may be configured to emit on a hit.
const (
	ActionReject = "reject"
	ActionDelete = "delete"
)

// ListSourceConfig is shared by all three list types.
type ListSourceConfig struct {
	Source          string        `toml:"source"`
	Format          string        `toml:"format"`
	RefreshInterval time.Duration `toml:"refresh_interval"`
	// AllowEmpty treats an empty remote payload as authoritative instead of
	// as a fetch failure.
	AllowEmpty bool `toml:"allow_empty"`
}

type AllowListConfig struct {
	ListSourceConfig
	Enabled bool   `toml:"enabled"`
	Message string `toml:"message"`
}

type DenyListConfig struct {
	ListSourceConfig
	Action string `toml:"action"`
}

type WordsListConfig struct {
	ListSourceConfig
}

type ListsConfig struct {
	Allow AllowListConfig `toml:"allow"`
	Deny  DenyListConfig  `toml:"deny"`
	Words WordsListConfig `toml:"words"`
}

type RateLimitConfig struct {
	Enabled   bool          `toml:"enabled"`
	Capacity  int           `toml:"capacity"`
	Window    time.Duration `toml:"window"`
	Cooldown  time.Duration `toml:"cooldown"`
	CacheSize int           `toml:"cache_size"`
	CacheTTL  time.Duration `toml:"cache_ttl"`
}

type FloodConfig struct {
	Enabled    bool          `toml:"enabled"`
	Rate       float64       `toml:"rate"`
	Burst      int           `toml:"burst"`
	CacheSize  int           `toml:"cache_size"`
	TTL        time.Duration `toml:"ttl"`
	IPv4Prefix int           `toml:"ipv4_prefix"`
	IPv6Prefix int           `toml:"ipv6_prefix"`
}

type ContentConfig struct {
	Enabled     bool     `toml:"enabled"`
	MaxLinks    int      `toml:"max_links"`
	Action      string   `toml:"action"`
	BannedWords []string `toml:"banned_words"`
}

func defaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: InfoLevel},
		DB: DBConfig{
			Path: "./warden-db",
		},
		Strfry: StrfryConfig{
			ExecutablePath: "/usr/local/bin/strfry",
			ConfigPath:     "/etc/strfry.conf",
			DeleteTimeout:  30 * time.Second,
		},
		Policy: PolicyConfig{
			WritesOnly: true,
		},
		Lists: ListsConfig{
			Allow: AllowListConfig{
				ListSourceConfig: ListSourceConfig{
					Format:          "nip05",
					RefreshInterval: 10 * time.Minute,
				},
				Message: "blocked: pubkey is not whitelisted on this relay",
			},
			Deny: DenyListConfig{
				ListSourceConfig: ListSourceConfig{
					Format:          "json",
					RefreshInterval: 15 * time.Minute,
				},
				Action: ActionReject,
			},
			Words: WordsListConfig{
				ListSourceConfig: ListSourceConfig{
					Format:          "json",
					RefreshInterval: 15 * time.Minute,
				},
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			Capacity:  15,
			Window:    time.Minute,
			Cooldown:  10 * time.Minute,
			CacheSize: 65536,
			CacheTTL:  30 * time.Minute,
		},
		Flood: FloodConfig{
			Rate:      1,
			Burst:     5,
			CacheSize: 65536,
			TTL:       10 * time.Minute,
		},
		Content: ContentConfig{
			Enabled:  true,
			MaxLinks: 3,
			Action:   ActionReject,
		},
	}
}

func validListFormat(format string) bool {
	switch format {
	case "nip05", "json", "lines":
		return true
	}
	return false
}

func (c *Config) validate() error {
	// --- [lists] ---
	if c.Lists.Allow.Enabled && c.Lists.Allow.Source == "" {
		return errors.New("lists.allow.source must be set when the allow list is enabled")
	}
	for name, lc := range map[string]ListSourceConfig{
		"allow": c.Lists.Allow.ListSourceConfig,
		"deny":  c.Lists.Deny.ListSourceConfig,
		"words": c.Lists.Words.ListSourceConfig,
	} {
		if lc.Source == "" {
			continue
		}
		if !validListFormat(lc.Format) {
			return fmt.Errorf("lists.%s.format must be one of nip05, json, lines", name)
		}
		if lc.RefreshInterval < 0 {
			return fmt.Errorf("lists.%s.refresh_interval must not be negative", name)
		}
	}
	if a := c.Lists.Deny.Action; a != ActionReject && a != ActionDelete {
		return errors.New("lists.deny.action must be 'reject' or 'delete'")
	}

	// --- [rate_limit] ---
	rl := c.RateLimit
	if rl.Enabled {
		if rl.Capacity <= 0 {
			return errors.New("rate_limit.capacity must be > 0")
		}
		if rl.Window <= 0 {
			return errors.New("rate_limit.window must be a positive duration")
		}
		if rl.Cooldown < 0 {
			return errors.New("rate_limit.cooldown must not be a negative duration")
		}
		if rl.CacheSize <= 0 {
			return errors.New("rate_limit.cache_size must be positive")
		}
		if rl.CacheTTL <= 0 {
			return errors.New("rate_limit.cache_ttl must be a positive duration")
		}
	}

	// --- [flood] ---
	fl := c.Flood
	if fl.Enabled {
		if fl.Rate <= 0 {
			return errors.New("flood.rate must be > 0")
		}
		if fl.Burst < 0 {
			return errors.New("flood.burst must be >= 0")
		}
		if fl.CacheSize <= 0 {
			return errors.New("flood.cache_size must be positive")
		}
		if fl.TTL <= 0 {
			return errors.New("flood.ttl must be a positive duration")
		}
		if p := fl.IPv4Prefix; p < 0 || p > 32 {
			return errors.New("flood.ipv4_prefix must be in [0..32]")
		}
		if p := fl.IPv6Prefix; p < 0 || p > 128 {
			return errors.New("flood.ipv6_prefix must be in [0..128]")
		}
	}

	// --- [content] ---
	if c.Content.Enabled {
		if c.Content.MaxLinks < 0 {
			return errors.New("content.max_links must not be negative")
		}
		if a := c.Content.Action; a != ActionReject && a != ActionDelete {
			return errors.New("content.action must be 'reject' or 'delete'")
		}
	}

	// --- [strfry] ---
	if c.Strfry.PurgeOnBan && c.Strfry.ExecutablePath == "" {
		return errors.New("strfry.executable_path must be set when purge_on_ban is enabled")
	}
	if c.Strfry.DeleteTimeout < 0 {
		return errors.New("strfry.delete_timeout must not be negative")
	}

	return nil
}

func Load(path string, useDefaults bool) (*Config, bool, error) {
	cfg := defaultConfig()
	defaultsUsed := false

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if useDefaults {
				defaultsUsed = true
				if err := cfg.validate(); err != nil {
					return nil, true, err
				}
				return cfg, defaultsUsed, nil
			}
			return nil, false, fmt.Errorf("config file not found at %s", path)
		}
		return nil, false, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, defaultsUsed, nil
}
