// Package config loads the layered TOML configuration.
//
// A config.default.toml (optional) is read first and config.toml (or the
// path given by --config / CONFIG_PATH) is deep-merged on top of it, so the
// override file only needs to name the keys it changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"newslens/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Database   Database   `mapstructure:"database"`
	Scheduler  Scheduler  `mapstructure:"scheduler"`
	Politeness Politeness `mapstructure:"politeness"`
	LLM        LLM        `mapstructure:"llm"`
	Scoring    Scoring    `mapstructure:"scoring"`
	Admin      Admin      `mapstructure:"admin"`
	Server     Server     `mapstructure:"server"`
	Users      []UserSeed `mapstructure:"users"`
}

// Database holds store configuration.
type Database struct {
	Path string `mapstructure:"path"`
}

// Scheduler holds polling configuration. Times lists "HH:MM" ingestion
// windows; they are advisory, the scheduler still ticks every minute.
type Scheduler struct {
	Times []string `mapstructure:"times"`
}

// Politeness bounds outbound fetch behavior per host.
type Politeness struct {
	DelaySeconds         float64 `mapstructure:"delay_seconds"`
	ConcurrencyPerDomain int     `mapstructure:"concurrency_per_domain"`
	MaxResponseBytes     int64   `mapstructure:"max_response_bytes"`
	FetchTimeoutSeconds  int     `mapstructure:"fetch_timeout_seconds"`
	RespectRobotsTxt     bool    `mapstructure:"respect_robots_txt"`
}

// FetchTimeout returns the per-request fetch timeout.
func (p Politeness) FetchTimeout() time.Duration {
	if p.FetchTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.FetchTimeoutSeconds) * time.Second
}

// Delay returns the inter-request delay inside one host bucket.
func (p Politeness) Delay() time.Duration {
	return time.Duration(p.DelaySeconds * float64(time.Second))
}

// LLM selects the adapter and carries per-mode endpoint settings. The named
// modes fall back to Remote when left empty, so a single [llm.remote] block
// is enough to configure everything.
type LLM struct {
	Adapter         string `mapstructure:"adapter"` // local, remote or none
	Remote          Mode   `mapstructure:"remote"`
	Background      Mode   `mapstructure:"background"`
	Interactive     Mode   `mapstructure:"interactive"`
	Summarization   Mode   `mapstructure:"summarization"`
	Personalization Mode   `mapstructure:"personalization"`
	Embedding       Mode   `mapstructure:"embedding"`
}

// Mode configures one LLM endpoint. APIKeyEnv names the environment variable
// holding the key, so keys never live in the config file itself.
type Mode struct {
	APIURL         string `mapstructure:"api_url"`
	APIKeyEnv      string `mapstructure:"api_key_env"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxTokens      int    `mapstructure:"max_tokens"`
}

// APIKey resolves the key from the configured environment variable.
func (m Mode) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.APIKeyEnv)
}

// Timeout returns the per-call timeout with a 60 s default.
func (m Mode) Timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// Merged returns m with empty fields filled from base.
func (m Mode) Merged(base Mode) Mode {
	if m.APIURL == "" {
		m.APIURL = base.APIURL
	}
	if m.APIKeyEnv == "" {
		m.APIKeyEnv = base.APIKeyEnv
	}
	if m.Model == "" {
		m.Model = base.Model
	}
	if m.TimeoutSeconds == 0 {
		m.TimeoutSeconds = base.TimeoutSeconds
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = base.MaxTokens
	}
	return m
}

// ModeFor returns the effective configuration for a named mode, layered over
// the remote block.
func (l LLM) ModeFor(name string) Mode {
	switch name {
	case "background":
		return l.Background.Merged(l.Remote)
	case "interactive":
		return l.Interactive.Merged(l.Background.Merged(l.Remote))
	case "summarization":
		return l.Summarization.Merged(l.Background.Merged(l.Remote))
	case "personalization":
		return l.Personalization.Merged(l.Background.Merged(l.Remote))
	case "embedding":
		return l.Embedding.Merged(l.Background.Merged(l.Remote))
	default:
		return l.Remote
	}
}

// Scoring holds the digest scoring weights.
type Scoring struct {
	WPref       float64 `mapstructure:"w_pref"`
	WRed        float64 `mapstructure:"w_red"`
	WRecency    float64 `mapstructure:"w_recency"`
	WSrc        float64 `mapstructure:"w_src"`
	WNovel      float64 `mapstructure:"w_novel"`
	Serendipity float64 `mapstructure:"serendipity"`
}

// Admin holds operational switches.
type Admin struct {
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
	DiagnosticsDir string `mapstructure:"diagnostics_dir"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// UserSeed is one entry of the declarative user roster. Seeds are
// synchronized into the store on startup.
type UserSeed struct {
	Username          string     `mapstructure:"username"`
	DisplayName       string     `mapstructure:"display_name"`
	PreferredLanguage string     `mapstructure:"preferred_language"`
	PasswordHash      string     `mapstructure:"password_hash"`
	Feeds             []FeedSeed `mapstructure:"feeds"`
}

// FeedSeed is a feed subscription declared on a user seed.
type FeedSeed struct {
	URL   string `mapstructure:"url"`
	Title string `mapstructure:"title"`
}

// Load reads config.default.toml (when present) and deep-merges the override
// file on top. The override path is resolved in order: the explicit argument,
// the CONFIG_PATH environment variable, then ./config.toml. A missing
// override file is only an error when it was explicitly requested.
func Load(configFile string) (*Config, error) {
	// Load .env for API keys and the JWT secret before anything reads env.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, core.Errorf(core.KindConfig, "loading .env: %v", err)
		}
	}

	explicit := configFile != ""
	if configFile == "" {
		configFile = os.Getenv("CONFIG_PATH")
		explicit = configFile != ""
	}
	if configFile == "" {
		configFile = "config.toml"
	}

	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	defaultPath := filepath.Join(filepath.Dir(configFile), "config.default.toml")
	if _, err := os.Stat(defaultPath); err == nil {
		v.SetConfigFile(defaultPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, core.Errorf(core.KindConfig, "reading %s: %v", defaultPath, err)
		}
	}

	if _, err := os.Stat(configFile); err == nil {
		v.SetConfigFile(configFile)
		if err := v.MergeInConfig(); err != nil {
			return nil, core.Errorf(core.KindConfig, "reading %s: %v", configFile, err)
		}
	} else if explicit {
		return nil, core.Errorf(core.KindConfig, "config file %s not found", configFile)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, core.Errorf(core.KindConfig, "unmarshaling config: %v", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "data/newslens.db")

	v.SetDefault("politeness.fetch_timeout_seconds", 30)
	v.SetDefault("politeness.concurrency_per_domain", 1)
	v.SetDefault("politeness.max_response_bytes", 10*1024*1024)

	v.SetDefault("llm.adapter", "none")
	v.SetDefault("llm.remote.timeout_seconds", 60)
	v.SetDefault("llm.remote.max_tokens", 1024)

	v.SetDefault("scoring.w_pref", 0.4)
	v.SetDefault("scoring.w_recency", 0.6)

	v.SetDefault("admin.auto_migrate", true)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_dir", "static")
}

func validate(cfg *Config) error {
	switch cfg.LLM.Adapter {
	case "local", "remote", "none":
	default:
		return core.Errorf(core.KindConfig, "llm.adapter must be local, remote or none, got %q", cfg.LLM.Adapter)
	}
	if cfg.Database.Path == "" {
		return core.Errorf(core.KindConfig, "database.path must not be empty")
	}
	for _, u := range cfg.Users {
		if u.Username == "" {
			return core.Errorf(core.KindConfig, "users entry with empty username")
		}
	}
	return nil
}

// EnsureDataDir creates the parent directory of the database path.
func (c *Config) EnsureDataDir() error {
	dir := filepath.Dir(c.Database.Path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.Errorf(core.KindConfig, "creating data dir %s: %v", dir, err)
	}
	return nil
}
