package eventsync

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config controls how the SDK connects.
type Config struct {
	URL              string        `mapstructure:"url"`     // WebSocket endpoint
	APIURL           string        `mapstructure:"api_url"` // REST base URL
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`

	AutoReconnect     bool          `mapstructure:"auto_reconnect"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	MaxReconnectTries int           `mapstructure:"max_reconnect_tries"`

	// AnalyticsTTL bounds how long dashboard aggregates are served from cache.
	AnalyticsTTL time.Duration `mapstructure:"analytics_ttl"`
	// RedisAddr enables persisted cache entries when set.
	RedisAddr string `mapstructure:"redis_addr"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       0, // server pings keep idle connections alive
		WriteTimeout:      10 * time.Second,
		AutoReconnect:     true,
		ReconnectInterval: time.Second,
		MaxReconnectDelay: 30 * time.Second,
		MaxReconnectTries: 5,
		AnalyticsTTL:      5 * time.Minute,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.URL == "" {
		return NewError(ErrorInvalidConfig, "empty URL")
	}
	if c.AutoReconnect && c.MaxReconnectTries <= 0 {
		return NewError(ErrorInvalidConfig, "max_reconnect_tries must be positive when auto_reconnect is set")
	}
	if c.ReconnectInterval < 0 || c.MaxReconnectDelay < 0 {
		return NewError(ErrorInvalidConfig, "reconnect delays must not be negative")
	}
	return nil
}

// LoadConfig reads path (if non-empty) and EVENTSYNC_* environment variables
// on top of DefaultConfig. Env vars override the file.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EVENTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("url", def.URL)
	v.SetDefault("api_url", def.APIURL)
	v.SetDefault("handshake_timeout", def.HandshakeTimeout)
	v.SetDefault("read_timeout", def.ReadTimeout)
	v.SetDefault("write_timeout", def.WriteTimeout)
	v.SetDefault("auto_reconnect", def.AutoReconnect)
	v.SetDefault("reconnect_interval", def.ReconnectInterval)
	v.SetDefault("max_reconnect_delay", def.MaxReconnectDelay)
	v.SetDefault("max_reconnect_tries", def.MaxReconnectTries)
	v.SetDefault("analytics_ttl", def.AnalyticsTTL)
	v.SetDefault("redis_addr", def.RedisAddr)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, WrapError(ErrorInvalidConfig, "read config "+path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, WrapError(ErrorInvalidConfig, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
