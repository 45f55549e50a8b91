package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	HTTP struct {
		Port int `koanf:"port"`
	} `koanf:"http"`

	Log struct {
		Level  string `koanf:"level"`
		Pretty bool   `koanf:"pretty"`
	} `koanf:"log"`

	DB struct {
		// mysql | postgres | sqlite
		Driver string `koanf:"driver"`
		DSN    string `koanf:"dsn"`
	} `koanf:"db"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Rabbit struct {
		URL   string `koanf:"url"`
		Queue string `koanf:"queue"`
	} `koanf:"rabbit"`

	Auth struct {
		JWTSecret         string        `koanf:"jwt_secret"`
		AdminPasswordHash string        `koanf:"admin_password_hash"`
		TokenTTL          time.Duration `koanf:"token_ttl"`
	} `koanf:"auth"`

	AI struct {
		Provider      string `koanf:"provider"`
		Model         string `koanf:"model"`
		BaseURL       string `koanf:"base_url"`
		APIKey        string `koanf:"api_key"`
		ContextWindow int    `koanf:"context_window"`
		MaxSteps      int    `koanf:"max_steps"`
		Instructions  string `koanf:"instructions"`
	} `koanf:"ai"`

	SMS struct {
		BaseURL       string  `koanf:"base_url"`
		APIKey        string  `koanf:"api_key"`
		DefaultNumber string  `koanf:"default_number"`
		RatePerMinute float64 `koanf:"rate_per_minute"`
		DryRun        bool    `koanf:"dry_run"`
	} `koanf:"sms"`

	Activation struct {
		Phrases []string `koanf:"phrases"`
	} `koanf:"activation"`

	Processor struct {
		PollInterval time.Duration `koanf:"poll_interval"`
		// drop | requeue
		FailurePolicy string `koanf:"failure_policy"`
		// db | rabbitmq
		RequeueBackend string `koanf:"requeue_backend"`
		MaxAttempts    int    `koanf:"max_attempts"`
		Lease          bool   `koanf:"lease"`
	} `koanf:"processor"`

	Retry struct {
		BaseDelay  time.Duration `koanf:"base_delay"`
		MaxDelay   time.Duration `koanf:"max_delay"`
		Multiplier float64       `koanf:"multiplier"`
		Jitter     bool          `koanf:"jitter"`
	} `koanf:"retry"`

	Session struct {
		IdleTimeout time.Duration `koanf:"idle_timeout"`
		CacheTTL    time.Duration `koanf:"cache_ttl"`
	} `koanf:"session"`

	Retention struct {
		Cron   string        `koanf:"cron"`
		MaxAge time.Duration `koanf:"max_age"`
	} `koanf:"retention"`
}

const envPrefix = "JARVIS_"

// DevJWTSecret is the built-in signing secret. It is refused once admin
// auth is enabled.
const DevJWTSecret = "dev-secret-change-me"

// legacyEnv maps the plain variable names the first deployment used onto
// config keys.
var legacyEnv = map[string]string{
	"DATABASE_URL":     "db.dsn",
	"JWT_SECRET":       "auth.jwt_secret",
	"PHONE_NUMBER":     "sms.default_number",
	"TEXTBELT_API_KEY": "sms.api_key",
	"OPENAI_API_KEY":   "ai.api_key",
	"PORT":             "http.port",
	"REDIS_ADDR":       "redis.addr",
	"RABBIT_URL":       "rabbit.url",
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"http.port":                 5000,
		"log.level":                 "info",
		"log.pretty":                false,
		"db.driver":                 "mysql",
		"db.dsn":                    "app:apppass@tcp(127.0.0.1:3306)/omi_jarvis?charset=utf8mb4&parseTime=true&loc=Local",
		"redis.db":                  0,
		"rabbit.queue":              "jarvis_batches",
		"auth.jwt_secret":           DevJWTSecret,
		"auth.token_ttl":            "24h",
		"ai.provider":               "openai",
		"ai.model":                  "gpt-5-mini",
		"ai.context_window":         20,
		"ai.max_steps":              6,
		"sms.base_url":              "https://textbelt.com",
		"sms.api_key":               "textbelt",
		"sms.rate_per_minute":       30.0,
		"processor.poll_interval":   "10s",
		"processor.failure_policy":  "drop",
		"processor.requeue_backend": "db",
		"processor.max_attempts":    3,
		"retry.base_delay":          "10s",
		"retry.max_delay":           "5m",
		"retry.multiplier":          2.0,
		"retry.jitter":              true,
		"session.idle_timeout":      "0s",
		"session.cache_ttl":         "1h",
		"retention.cron":            "0 3 * * *",
		"retention.max_age":         "0s",
	}
}

// Load builds the configuration from defaults, an optional TOML file,
// JARVIS_ prefixed environment variables and the legacy variable names,
// in that order of precedence (last wins). A .env file in the working
// directory is loaded first if present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	} else if _, err := os.Stat("jarvis.toml"); err == nil {
		if err := k.Load(file.Provider("jarvis.toml"), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file jarvis.toml: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("load legacy env: %w", err)
	}

	// JARVIS_PROCESSOR__POLL_INTERVAL -> processor.poll_interval
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DB.Driver)
	}
	switch c.Processor.FailurePolicy {
	case "drop", "requeue":
	default:
		return fmt.Errorf("unsupported processor failure policy %q", c.Processor.FailurePolicy)
	}
	switch c.Processor.RequeueBackend {
	case "db", "rabbitmq":
	default:
		return fmt.Errorf("unsupported requeue backend %q", c.Processor.RequeueBackend)
	}
	if c.Processor.PollInterval <= 0 {
		return fmt.Errorf("processor poll interval must be positive")
	}
	if c.Auth.AdminPasswordHash != "" && (c.Auth.JWTSecret == "" || c.Auth.JWTSecret == DevJWTSecret) {
		return fmt.Errorf("auth.jwt_secret must be set to a private value when admin auth is enabled")
	}
	if c.Processor.RequeueBackend == "rabbitmq" && c.Processor.FailurePolicy == "requeue" && c.Rabbit.URL == "" {
		return fmt.Errorf("rabbit url is required for the rabbitmq requeue backend")
	}
	return nil
}
