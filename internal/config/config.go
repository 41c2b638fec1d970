package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mirrorsync/internal/util"
)

// DefaultUserAgent is sent on media requests when the account sets none.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Config is the application's configuration model.
type Config struct {
	Account AccountConfig `yaml:"account"`
	Trust   TrustConfig   `yaml:"trust"`
	Media   MediaConfig   `yaml:"media"`
	Sync    SyncConfig    `yaml:"sync"`
	Source  SourceConfig  `yaml:"source"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

type AccountConfig struct {
	Username string `yaml:"username"`
	// Overrides DefaultUserAgent for media requests. If empty, read MIRRORSYNC_USER_AGENT
	UserAgent string `yaml:"userAgent"`
}

type TrustConfig struct {
	// When false the relationship gate lets every profile through.
	RequireConnection bool     `yaml:"requireConnection"`
	TrustedTags       []string `yaml:"trustedTags"`
	// Media hosts refused by the source gate (subdomains included).
	BlockedHosts []string      `yaml:"blockedHosts"`
	CacheSize    int           `yaml:"cacheSize"`
	CacheTTL     time.Duration `yaml:"cacheTTL"`
}

type MediaConfig struct {
	Referer      string  `yaml:"referer"`
	MaxRedirects int     `yaml:"maxRedirects"`
	RPS          float64 `yaml:"rps"`
	Burst        int     `yaml:"burst"`
}

type SyncConfig struct {
	Profiles              []string      `yaml:"profiles"`
	TrackMissingAsDeleted bool          `yaml:"trackMissingAsDeleted"`
	Interval              time.Duration `yaml:"interval"`
	// Provenance tag written into post metadata and comments.
	SourceTag string `yaml:"sourceTag"`
	// UTC hours in which the loop does not start cycles.
	QuietHours []int `yaml:"quietHours"`
}

type SourceConfig struct {
	Kind    string `yaml:"kind"` // "file" or "http"
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"baseURL"`
	// If empty, read from env MIRRORSYNC_SOURCE_TOKEN
	Token string `yaml:"token"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DBPath string `yaml:"dbPath"`
	// If empty, read from env MIRRORSYNC_POSTGRES_DSN
	DSN string `yaml:"dsn"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Account: AccountConfig{Username: "", UserAgent: ""},
		Trust: TrustConfig{
			RequireConnection: true,
			TrustedTags:       []string{"personal", "friend", "relative", "family", "close_friend"},
			CacheSize:         512,
			CacheTTL:          10 * time.Minute,
		},
		Media:   MediaConfig{Referer: "https://www.instagram.com/", MaxRedirects: 4, RPS: 4, Burst: 8},
		Sync:    SyncConfig{TrackMissingAsDeleted: true, Interval: 30 * time.Minute, SourceTag: "profile_sync"},
		Source:  SourceConfig{Kind: "file", Dir: "./datasets"},
		Storage: StorageConfig{Driver: "sqlite", DBPath: "./mirrorsync.db"},
		Metrics: MetricsConfig{Addr: ""},
		Log:     LogConfig{Level: "info"},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
// Boolean overrides always win when present and parseable.
func (c *Config) ResolveEnv() {
	if v := os.Getenv("MIRRORSYNC_ACCOUNT"); c.Account.Username == "" && v != "" {
		c.Account.Username = v
	}
	if c.Account.UserAgent == "" {
		c.Account.UserAgent = os.Getenv("MIRRORSYNC_USER_AGENT")
	}
	if c.Source.Token == "" {
		c.Source.Token = os.Getenv("MIRRORSYNC_SOURCE_TOKEN")
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = os.Getenv("MIRRORSYNC_POSTGRES_DSN")
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = os.Getenv("METRICS_ADDR")
	}
	if v, ok := os.LookupEnv("MIRRORSYNC_REQUIRE_CONNECTION"); ok {
		c.Trust.RequireConnection = util.ParseBoolDefault(v, c.Trust.RequireConnection)
	}
	if v, ok := os.LookupEnv("MIRRORSYNC_TRACK_DELETED"); ok {
		c.Sync.TrackMissingAsDeleted = util.ParseBoolDefault(v, c.Sync.TrackMissingAsDeleted)
	}
	if v := os.Getenv("MIRRORSYNC_PROFILES"); len(c.Sync.Profiles) == 0 && v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Sync.Profiles = append(c.Sync.Profiles, p)
			}
		}
	}
}

// EffectiveUserAgent returns the configured user agent or the default one.
func (c AccountConfig) EffectiveUserAgent() string {
	if strings.TrimSpace(c.UserAgent) != "" {
		return c.UserAgent
	}
	return DefaultUserAgent
}

// Load reads YAML config from path on top of Default().
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
