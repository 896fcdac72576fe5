package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AIProvider   string `mapstructure:"AI_PROVIDER"`
	GeminiAPIKey string `mapstructure:"GEMINI_API_KEY"`
	OpenAIAPIKey string `mapstructure:"OPENAI_API_KEY"`
	ChatModel    string `mapstructure:"CHAT_MODEL"`

	StoreBackend  string `mapstructure:"STORE_BACKEND"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisChannel  string `mapstructure:"REDIS_CHANNEL"`

	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	JWTSecret string `mapstructure:"JWT_SECRET"`

	TypingTimeout      time.Duration `mapstructure:"TYPING_TIMEOUT"`
	SQLitePollInterval time.Duration `mapstructure:"SQLITE_POLL_INTERVAL"`

	// GeneratedJWTSecret is set when JWT_SECRET was empty and a random one was used.
	GeneratedJWTSecret bool `mapstructure:"-"`
}

var AppConfig Config

var keys = []string{
	"AI_PROVIDER", "GEMINI_API_KEY", "OPENAI_API_KEY", "CHAT_MODEL",
	"STORE_BACKEND", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_CHANNEL",
	"HTTP_PORT", "LOG_LEVEL", "LOG_FORMAT", "JWT_SECRET",
	"TYPING_TIMEOUT", "SQLITE_POLL_INTERVAL",
}

// LoadConfig reads .env (if present), an optional config file and the
// environment into AppConfig. configFile may be empty.
func LoadConfig(configFile string) error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return fmt.Errorf("failed to bind %s: %w", k, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return err
	}

	if cfg.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.JWTSecret = secret
		cfg.GeneratedJWTSecret = true
	}

	AppConfig = cfg
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("AI_PROVIDER", "gemini")
	v.SetDefault("CHAT_MODEL", "")
	v.SetDefault("STORE_BACKEND", "sqlite")
	v.SetDefault("DATABASE_URL", "dcode_mentor_hub.db")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_CHANNEL", "dcode:kv:changes")
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("TYPING_TIMEOUT", "2s")
	v.SetDefault("SQLITE_POLL_INTERVAL", "250ms")
}

func (c *Config) validate() error {
	c.AIProvider = strings.ToLower(strings.TrimSpace(c.AIProvider))
	switch c.AIProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unsupported AI_PROVIDER %q (want gemini or openai)", c.AIProvider)
	}

	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q (want memory, sqlite or redis)", c.StoreBackend)
	}

	if c.TypingTimeout <= 0 {
		return fmt.Errorf("TYPING_TIMEOUT must be positive, got %s", c.TypingTimeout)
	}
	if c.SQLitePollInterval <= 0 {
		return fmt.Errorf("SQLITE_POLL_INTERVAL must be positive, got %s", c.SQLitePollInterval)
	}
	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
