// Package config loads server settings from an optional YAML file, the
// environment and a .env file, in that order of increasing precedence
// below explicit environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is required")

type Config struct {
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	Host string `mapstructure:"host"`

	OpenAIAPIKey      string        `mapstructure:"openai_api_key"`
	OpenAIBaseURL     string        `mapstructure:"openai_base_url" validate:"omitempty,url"`
	OpenAIModel       string        `mapstructure:"openai_model" validate:"required"`
	OpenAITemperature float32       `mapstructure:"openai_temperature" validate:"gte=0,lte=2"`
	OpenAIMaxTokens   int           `mapstructure:"openai_max_tokens" validate:"min=1"`
	GeneratorTimeout  time.Duration `mapstructure:"generator_timeout" validate:"gt=0"`
	GeneratorHistory  int           `mapstructure:"generator_history" validate:"min=0"`

	ContextWindow    int    `mapstructure:"context_window" validate:"min=1"`
	MaxMessageLength int    `mapstructure:"max_message_length" validate:"min=1"`
	ResponderName    string `mapstructure:"responder_name" validate:"required"`
	FallbackText     string `mapstructure:"fallback_text" validate:"required"`
	PersonaFile      string `mapstructure:"persona_file"`

	AdminToken      string        `mapstructure:"admin_token"`
	PublicURL       string        `mapstructure:"public_url" validate:"omitempty,url"`
	DevMode         bool          `mapstructure:"dev_mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

var defaults = map[string]any{
	"port":               8080,
	"host":               "",
	"openai_api_key":     "",
	"openai_base_url":    "",
	"openai_model":       "gpt-3.5-turbo",
	"openai_temperature": 0.9,
	"openai_max_tokens":  100,
	"generator_timeout":  "15s",
	"generator_history":  5,
	"context_window":     10,
	"max_message_length": 500,
	"responder_name":     "eliza",
	"fallback_text":      "sorry, having some technical difficulties but still vibing",
	"persona_file":       "",
	"admin_token":        "",
	"public_url":         "",
	"dev_mode":           false,
	"shutdown_timeout":   "5s",
}

// Load reads the configuration. path may be empty, in which case
// CONFIG_PATH is consulted and a missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RequireGenerator reports whether the settings needed to call the
// upstream model are present.
func (c *Config) RequireGenerator() error {
	if c.OpenAIAPIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
