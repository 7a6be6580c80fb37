package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	LogLevel           string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	DBConnectRetries   uint64   `mapstructure:"DB_CONNECT_RETRIES"`
	DefaultTenant      string   `mapstructure:"DEFAULT_TENANT"`
	AuthIssuer         string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey     string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthSigningKeyFile string   `mapstructure:"AUTH_SIGNING_KEY_FILE"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `mapstructure:"RATE_LIMIT_BURST"`
	TriageTablePath    string   `mapstructure:"TRIAGE_TABLE_PATH"`
	TLSEnabled         bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile        string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile         string   `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_CONNECT_RETRIES", "DEFAULT_TENANT",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "AUTH_SIGNING_KEY_FILE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"TRIAGE_TABLE_PATH",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads configuration from the environment and an optional .env file in
// the working directory. It does not validate; commands that need a database
// or auth call Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_CONNECT_RETRIES", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	// Unmarshal only sees keys viper knows about.
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// The default string-to-slice hook does not trim.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey returns the JWT verification key, reading AUTH_SIGNING_KEY_FILE
// when AUTH_SIGNING_KEY is empty.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey != "" {
		return []byte(c.AuthSigningKey), nil
	}
	if c.AuthSigningKeyFile == "" {
		return nil, nil
	}
	b, err := os.ReadFile(c.AuthSigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read AUTH_SIGNING_KEY_FILE: %w", err)
	}
	return b, nil
}

// Validate checks that the configuration is safe to serve with. Outside
// development a signing key is required so real JWT authentication is
// enforced.
func (c *Config) Validate() error {
	var problems []string

	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.DBMaxConns < 1 {
		problems = append(problems, "DB_MAX_CONNS must be at least 1")
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		problems = append(problems, "DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		problems = append(problems, "RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	switch c.Env {
	case "development", "staging", "production":
	default:
		problems = append(problems, fmt.Sprintf("ENV must be development, staging or production, got %q", c.Env))
	}

	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthSigningKeyFile == "" {
		problems = append(problems, fmt.Sprintf(
			"AUTH_SIGNING_KEY or AUTH_SIGNING_KEY_FILE must be set when ENV=%q", c.Env))
	}
	if c.IsProduction() && c.AuthIssuer == "" {
		problems = append(problems, "AUTH_ISSUER is required in production")
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			problems = append(problems, "TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			problems = append(problems, "TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
