package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the runtime settings for the API process.
//
// Hierarchy (highest to lowest priority):
//  1. Environment variables (EARMARK_*)
//  2. Config file (earmark.yaml in the working directory or /etc/earmark)
//  3. Defaults
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	ListenAddr  string `mapstructure:"listen_addr"`
	LogLevel    string `mapstructure:"log_level"`
}

// Load reads configuration from the environment and an optional yaml file.
// A missing file is fine; a malformed one is not.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")

	v.SetConfigName("earmark")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/earmark")

	v.SetEnvPrefix("EARMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about; bind the env-only ones.
	for _, key := range []string{"database_url", "jwt_secret", "listen_addr", "log_level"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: database_url is required (set EARMARK_DATABASE_URL)")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: jwt_secret is required (set EARMARK_JWT_SECRET)")
	}

	return cfg, nil
}
