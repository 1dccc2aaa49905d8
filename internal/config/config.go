// Package config loads service settings from defaults, an optional config
// file and CUSTODY_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. CUSTODY_HTTP_ADDR.
const EnvPrefix = "CUSTODY"

// Config holds every service setting. Keys mirror the mapstructure tags, so
// http.addr is Config.HTTP.Addr.
type Config struct {
	DB struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`

	HTTP struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`

	Auth struct {
		JWTSecret    string        `mapstructure:"jwt_secret"`
		CookieSecure bool          `mapstructure:"cookie_secure"`
		SessionTTL   time.Duration `mapstructure:"session_ttl"`
	} `mapstructure:"auth"`

	Admin struct {
		Username string `mapstructure:"username"`
	} `mapstructure:"admin"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		File   string `mapstructure:"file"`
	} `mapstructure:"log"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

var defaults = map[string]any{
	"db.path":               "custody.sqlite3",
	"http.addr":             ":8080",
	"http.shutdown_timeout": 5 * time.Second,
	"auth.jwt_secret":       "",
	"auth.cookie_secure":    false,
	"auth.session_ttl":      24 * time.Hour,
	"admin.username":        "admin",
	"log.level":             "info",
	"log.format":            "text",
	"log.file":              "",
	"metrics.enabled":       true,
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply. overrides carries explicitly set
// command-line flags keyed like "http.addr"; they win over everything else.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return fmt.Errorf("db.path must not be empty")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr must not be empty")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("http.shutdown_timeout must be positive")
	}
	if strings.TrimSpace(c.Admin.Username) == "" {
		return fmt.Errorf("admin.username must not be empty")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
