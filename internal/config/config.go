package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	// AppName is the config file name looked up in the search paths
	AppName = "flowplan"

	// EnvPrefix is the prefix for environment overrides, e.g. FLOWPLAN_SERVER_PORT
	EnvPrefix = "FLOWPLAN"
)

// Config holds the application configuration
type Config struct {
	Server struct {
		Port    int    `mapstructure:"port"`
		BaseURL string `mapstructure:"base_url"` // public prefix of webhook test URLs
	} `mapstructure:"server"`

	DB struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"db"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // text or json
	} `mapstructure:"log"`

	Render struct {
		BaseURL   string        `mapstructure:"base_url"`
		APIKey    string        `mapstructure:"api_key"`
		Timeout   time.Duration `mapstructure:"timeout"`
		RateLimit float64       `mapstructure:"rate_limit"` // requests per second, 0 is unlimited
		Burst     int           `mapstructure:"burst"`
	} `mapstructure:"render"`

	Dispatch struct {
		Limit      int           `mapstructure:"limit"`
		Workers    int           `mapstructure:"workers"`
		StaleAfter time.Duration `mapstructure:"stale_after"`
		Interval   time.Duration `mapstructure:"interval"` // 0 disables the in-process ticker
	} `mapstructure:"dispatch"`

	Tokens struct {
		Backend string `mapstructure:"backend"` // memory or redis
	} `mapstructure:"tokens"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
}

// Load reads .env, then the config file (cfgFile or flowplan.yaml in the
// search paths), then FLOWPLAN_* environment overrides. A missing config file
// is not an error.
func Load(cfgFile string) (Config, error) {
	var cfg Config
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/" + AppName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, errors.Wrap(err, "read config file")
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")

	v.SetDefault("db.url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("render.base_url", "http://localhost:9000")
	v.SetDefault("render.api_key", "")
	v.SetDefault("render.timeout", 60*time.Second)
	v.SetDefault("render.rate_limit", 0.0)
	v.SetDefault("render.burst", 1)

	v.SetDefault("dispatch.limit", 20)
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.stale_after", 30*time.Minute)
	v.SetDefault("dispatch.interval", time.Duration(0))

	v.SetDefault("tokens.backend", "memory")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

func (c Config) validate() error {
	switch c.Tokens.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("tokens.backend must be memory or redis, got '%s'", c.Tokens.Backend)
	}
	if c.Dispatch.StaleAfter < 0 || c.Dispatch.Interval < 0 {
		return fmt.Errorf("dispatch durations cannot be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

// DatabaseURL returns db.url, or builds it from the DB_* variables when unset.
func (c Config) DatabaseURL() (string, error) {
	if c.DB.URL != "" {
		return c.DB.URL, nil
	}
	dbUsername := os.Getenv("DB_USERNAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")
	if dbUsername == "" || dbPassword == "" || dbHost == "" || dbPort == "" || dbName == "" {
		return "", errors.New("db.url or complete DB_* env vars (DB_USERNAME, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME) required")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUsername, dbPassword, dbHost, dbPort, dbName), nil
}
