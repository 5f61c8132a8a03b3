package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Store       StoreConfig     `mapstructure:"store"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
	Workers     WorkersConfig   `mapstructure:"workers"`
	Index       IndexConfig     `mapstructure:"index"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	IdleTimeout  int `mapstructure:"idle_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	Insecure   bool    `mapstructure:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode, d.MaxConns, d.MinConns)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	Namespace string `mapstructure:"namespace"`
}

type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	TokenTTLHours        int    `mapstructure:"token_ttl_hours"`
	OperatorEmail        string `mapstructure:"operator_email"`
	OperatorPasswordHash string `mapstructure:"operator_password_hash" json:"-" yaml:"-"`
	BcryptCost           int    `mapstructure:"bcrypt_cost"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" json:"-" yaml:"-"`
	ChatID   string `mapstructure:"chat_id"`
}

type WorkersConfig struct {
	// Count pins the worker pool size; 0 lets the resource optimizer
	// choose from the host's CPU and memory headroom.
	Count int `mapstructure:"count"`
}

// IndexConfig describes the one index definition this process computes.
// Everything here is resolved against the strategy registries at setup;
// an unknown name fails before any I/O.
type IndexConfig struct {
	Name         string              `mapstructure:"name"`
	Fitter       string              `mapstructure:"fitter"`
	Formula      string              `mapstructure:"formula"`
	Cadence      int                 `mapstructure:"cadence"`
	Reference    ReferenceConfig     `mapstructure:"reference"`
	Options      []OptionConfig      `mapstructure:"options"`
	Aggregations []AggregationConfig `mapstructure:"aggregations"`
	Post         []PostConfig        `mapstructure:"post"`
	Output       OutputConfig        `mapstructure:"output"`
}

// ReferenceConfig selects the historical reference period: kind "fixed"
// with literal start/end dates, or kind "window" reaching size units back
// from each timestep.
type ReferenceConfig struct {
	Kind  string `mapstructure:"kind"`
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
	Size  int    `mapstructure:"size"`
	Unit  string `mapstructure:"unit"`
}

// OptionConfig is one index option. Declaration order is significant: it
// fixes the enumeration order of the option-case product. An option with
// choices is permutable; an option with a value is a fixed scalar.
type OptionConfig struct {
	Key     string         `mapstructure:"key"`
	Value   string         `mapstructure:"value"`
	Choices []ChoiceConfig `mapstructure:"choices"`
}

type ChoiceConfig struct {
	Label string `mapstructure:"label"`
	Value string `mapstructure:"value"`
}

// AggregationConfig is one named aggregation. Kind selects the registered
// strategy builder; the remaining fields are its parameters.
type AggregationConfig struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`
	Size int    `mapstructure:"size"`
	Unit string `mapstructure:"unit"`
	Span int    `mapstructure:"span"`
}

// PostConfig is one named post-processing step.
type PostConfig struct {
	Name   string  `mapstructure:"name"`
	Kind   string  `mapstructure:"kind"`
	Min    float64 `mapstructure:"min"`
	Max    float64 `mapstructure:"max"`
	Factor float64 `mapstructure:"factor"`
	Offset float64 `mapstructure:"offset"`
}

// OutputConfig holds the store location patterns. Patterns may contain
// {tag} placeholders resolved per computation case.
type OutputConfig struct {
	Template   string            `mapstructure:"template"`
	DataRaw    string            `mapstructure:"data_raw"`
	Data       string            `mapstructure:"data"`
	Parameters map[string]string `mapstructure:"parameters"`
	Index      string            `mapstructure:"index"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("auth.jwt_secret", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind JWT_SECRET environment variable: %w", err)
	}
	if err := viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind TELEGRAM_BOT_TOKEN environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// missing config file is fine, defaults and env vars apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.Environment != "development" && c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required in non-development environments")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, c.Auth.BcryptCost)
	}
	if c.Auth.TokenTTLHours <= 0 {
		return fmt.Errorf("token TTL must be positive, got %d", c.Auth.TokenTTLHours)
	}
	switch c.Store.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q: must be one of memory, redis, postgres", c.Store.Backend)
	}
	switch c.Index.Reference.Kind {
	case "fixed", "window":
	default:
		return fmt.Errorf("unknown reference kind %q: must be fixed or window", c.Index.Reference.Kind)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample rate must be within [0, 1], got %g", c.Telemetry.SampleRate)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "")
	viper.SetDefault("telemetry.insecure", true)
	viper.SetDefault("telemetry.sample_rate", 1.0)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "hydroclim")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("database.min_conns", 2)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("store.namespace", "hydroclim")

	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.token_ttl_hours", 24)
	viper.SetDefault("auth.operator_email", "")
	viper.SetDefault("auth.operator_password_hash", "")
	viper.SetDefault("auth.bcrypt_cost", 10)

	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", "")

	viper.SetDefault("workers.count", 0)

	viper.SetDefault("index.name", "standardized_anomaly")
	viper.SetDefault("index.fitter", "moments")
	viper.SetDefault("index.formula", "zscore")
	viper.SetDefault("index.cadence", 12)
	viper.SetDefault("index.reference.kind", "window")
	viper.SetDefault("index.reference.size", 10)
	viper.SetDefault("index.reference.unit", "years")
	viper.SetDefault("index.output.template", "{index}")
	viper.SetDefault("index.output.data_raw", "raw")
	viper.SetDefault("index.output.data", "data/{agg_fn}")
	viper.SetDefault("index.output.index", "index/{agg_fn}/{stdtype}/{post_fn}")
	viper.SetDefault("index.output.parameters", map[string]string{
		"mean":   "par/{agg_fn}/mean/{history_start}-{history_end}/{stdtype}",
		"stddev": "par/{agg_fn}/stddev/{history_start}-{history_end}/{stdtype}",
	})
}
