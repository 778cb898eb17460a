// Package config loads contentguard settings with viper: defaults in code,
// then an optional config file, then CONTENTGUARD_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/whisper/contentguard/internal/moderation"
)

// EnvPrefix is prepended to every environment override, with "." in keys
// mapped to "_": classifier.base_url is CONTENTGUARD_CLASSIFIER_BASE_URL.
const EnvPrefix = "CONTENTGUARD"

// Config is the resolved configuration shared by all commands.
type Config struct {
	ClassifierURL         string
	ClassifierTimeout     time.Duration
	ClassifierDialTimeout time.Duration
	ClassifierMaxConns    int
	DenyListPath          string
	DebounceDelay         time.Duration
	Gate                  moderation.GateConfig

	LogLevel string
	LogFile  string

	NatsURL     string
	RedisAddr   string
	PostgresDSN string

	HTTPAddr   string
	AdminToken string
	WSAddr     string

	ReviewWorkers   int
	ReviewQueueSize int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("classifier.base_url", "http://localhost:8000")
	v.SetDefault("classifier.timeout", "60s")
	v.SetDefault("classifier.dial_timeout", "5s")
	v.SetDefault("classifier.max_conns", 1)
	v.SetDefault("denylist.path", "")
	v.SetDefault("debounce.delay", "1s")
	v.SetDefault("policy.on_failure.post", string(moderation.FailOpenWarn))
	v.SetDefault("policy.on_failure.comment", string(moderation.FailOpenWarn))
	v.SetDefault("policy.on_failure.username", string(moderation.FailClosed))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("http.listen_addr", ":8081")
	v.SetDefault("http.admin_token", "")
	v.SetDefault("ws.listen_addr", ":8080")
	v.SetDefault("review.workers", 4)
	v.SetDefault("review.queue_size", 128)
}

// Load resolves the configuration. path names an optional TOML, YAML or JSON
// file; when empty, CONTENTGUARD_CONFIG is consulted.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ClassifierURL:         v.GetString("classifier.base_url"),
		ClassifierTimeout:     v.GetDuration("classifier.timeout"),
		ClassifierDialTimeout: v.GetDuration("classifier.dial_timeout"),
		ClassifierMaxConns:    v.GetInt("classifier.max_conns"),
		DenyListPath:          v.GetString("denylist.path"),
		DebounceDelay:         v.GetDuration("debounce.delay"),
		LogLevel:              v.GetString("log.level"),
		LogFile:               v.GetString("log.file"),
		NatsURL:               v.GetString("nats.url"),
		RedisAddr:             v.GetString("redis.addr"),
		PostgresDSN:           v.GetString("postgres.dsn"),
		HTTPAddr:              v.GetString("http.listen_addr"),
		AdminToken:            v.GetString("http.admin_token"),
		WSAddr:                v.GetString("ws.listen_addr"),
		ReviewWorkers:         v.GetInt("review.workers"),
		ReviewQueueSize:       v.GetInt("review.queue_size"),
	}

	cfg.Gate = moderation.GateConfig{OnFailure: map[moderation.ContentType]moderation.FailurePolicy{}}
	for _, ct := range []moderation.ContentType{moderation.ContentPost, moderation.ContentComment, moderation.ContentUsername} {
		key := "policy.on_failure." + string(ct)
		p, err := moderation.ParseFailurePolicy(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", key, err)
		}
		cfg.Gate.OnFailure[ct] = p
	}

	if cfg.ClassifierTimeout <= 0 {
		return nil, fmt.Errorf("config: classifier.timeout must be positive")
	}
	if cfg.DebounceDelay < 0 {
		return nil, fmt.Errorf("config: debounce.delay must not be negative")
	}
	if cfg.ClassifierMaxConns < 1 {
		return nil, fmt.Errorf("config: classifier.max_conns must be at least 1")
	}
	if cfg.ReviewWorkers <= 0 {
		cfg.ReviewWorkers = 1
	}
	if cfg.ReviewQueueSize <= 0 {
		cfg.ReviewQueueSize = 1
	}
	return cfg, nil
}

// ClientConfig returns the classifier client settings.
func (c *Config) ClientConfig() moderation.ClientConfig {
	return moderation.ClientConfig{
		BaseURL:     c.ClassifierURL,
		Timeout:     c.ClassifierTimeout,
		DialTimeout: c.ClassifierDialTimeout,
		MaxConns:    c.ClassifierMaxConns,
	}
}

// LoadDenyList loads the configured deny list, falling back to the bundled
// table when no path is set. A load error is returned alongside a usable
// store.
func (c *Config) LoadDenyList() (*moderation.DenyList, error) {
	if c.DenyListPath == "" {
		return moderation.DefaultDenyList(), nil
	}
	return moderation.LoadDenyListFile(c.DenyListPath)
}
