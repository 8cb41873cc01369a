package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DoyleJ11/pick-a-number/internal/engine"
	"github.com/joho/godotenv"
)

const DefaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port              string
	Rules             engine.Rules
	TickInterval      time.Duration
	SubscriberBuffer  int
	ResultRetention   time.Duration
	DatabaseURL       string
	JWTSecret         string
	NATSURL           string
	NATSSubjectPrefix string
	CORSOrigins       []string
	LogLevel          string
	LogFormat         string

	// EnvFileLoaded reports whether a .env file was read.
	EnvFileLoaded bool
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	loaded := godotenv.Load() == nil

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Rules: engine.Rules{
			MinNumber: getEnvAsInt("NUMBER_MIN", 1),
			MaxNumber: getEnvAsInt("NUMBER_MAX", 9),
			Capacity:  getEnvAsInt("SESSION_CAPACITY", 100),
			Duration:  getEnvAsDuration("SESSION_DURATION", 30*time.Second),
		},
		TickInterval:      getEnvAsDuration("TICK_INTERVAL", time.Second),
		SubscriberBuffer:  getEnvAsInt("SUBSCRIBER_BUFFER", 16),
		ResultRetention:   getEnvAsDuration("RESULT_RETENTION", 2*time.Minute),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		JWTSecret:         getEnv("JWT_SECRET", DefaultJWTSecret),
		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "game.events"),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "*")),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		EnvFileLoaded:     loaded,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if err := c.Rules.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick interval must be positive"))
	}
	if c.SubscriberBuffer <= 0 {
		errs = append(errs, errors.New("subscriber buffer must be positive"))
	}
	if c.ResultRetention <= 0 {
		errs = append(errs, errors.New("result retention must be positive"))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) Addr() string { return ":" + c.Port }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// bare numbers are seconds
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
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
