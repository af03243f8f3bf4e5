// Package config loads bridge configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/WanxiaJaneYang/localQQTransferProxy/internal/errors"
)

// Defaults for optional settings.
const (
	DefaultAPIBaseURL      = "https://api.sgroup.qq.com"
	DefaultClaudeCmd       = "claude"
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8080
	DefaultLogLevel        = "INFO"
	DefaultSessionTimeout  = 1800 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultCleanupInterval = 30 * time.Second
)

// Config is the validated bridge configuration.
type Config struct {
	QQAppID          string
	QQAppSecret      string
	QQBotToken       string
	QQCallbackSecret string
	QQAPIBaseURL     string

	// ClaudeCommand is the whitespace-split CLAUDE_CMD value.
	ClaudeCommand []string

	Host     string
	Port     int
	LogLevel string

	SessionIdleTimeout time.Duration
	RequestTimeout     time.Duration
	CleanupInterval    time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in when present, with real environment
// variables taking precedence. All validation problems are aggregated
// into a single ConfigError.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	// The .env file is optional.
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("QQ_API_BASE_URL", DefaultAPIBaseURL)
	v.SetDefault("CLAUDE_CMD", DefaultClaudeCmd)
	v.SetDefault("BRIDGE_HOST", DefaultHost)
	v.SetDefault("BRIDGE_PORT", DefaultPort)
	v.SetDefault("LOG_LEVEL", DefaultLogLevel)
	v.SetDefault("SESSION_TIMEOUT_SECONDS", int(DefaultSessionTimeout/time.Second))
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", int(DefaultRequestTimeout/time.Second))
	v.SetDefault("CLEANUP_INTERVAL_SECONDS", int(DefaultCleanupInterval/time.Second))

	cfg := &Config{
		QQAppID:          firstNonEmpty(trimmed(v, "QQ_APP_ID"), trimmed(v, "QQ_BOT_APP_ID")),
		QQAppSecret:      trimmed(v, "QQ_APP_SECRET"),
		QQBotToken:       trimmed(v, "QQ_BOT_TOKEN"),
		QQCallbackSecret: trimmed(v, "QQ_CALLBACK_SECRET"),
		QQAPIBaseURL:     trimmed(v, "QQ_API_BASE_URL"),
		ClaudeCommand:    strings.Fields(v.GetString("CLAUDE_CMD")),
		Host:             trimmed(v, "BRIDGE_HOST"),
		Port:             v.GetInt("BRIDGE_PORT"),
		LogLevel:         trimmed(v, "LOG_LEVEL"),
	}

	var problems []string

	if cfg.QQAppID == "" {
		problems = append(problems, "QQ_APP_ID is required.")
	}

	if cfg.QQAppSecret == "" {
		problems = append(problems, "QQ_APP_SECRET is required.")
	}

	if cfg.QQBotToken == "" {
		problems = append(problems, "QQ_BOT_TOKEN is required when using Bot token mode.")
	}

	if cfg.QQAPIBaseURL == "" {
		problems = append(problems, "QQ_API_BASE_URL cannot be empty.")
	}

	if len(cfg.ClaudeCommand) == 0 {
		problems = append(problems, "CLAUDE_CMD must include a command to execute.")
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		problems = append(problems, "BRIDGE_PORT must be a valid TCP port.")
	}

	cfg.SessionIdleTimeout, problems = positiveSeconds(v, "SESSION_TIMEOUT_SECONDS", problems)
	cfg.RequestTimeout, problems = positiveSeconds(v, "REQUEST_TIMEOUT_SECONDS", problems)
	cfg.CleanupInterval, problems = positiveSeconds(v, "CLEANUP_INTERVAL_SECONDS", problems)

	if len(problems) > 0 {
		return nil, &errors.ConfigError{Problems: problems}
	}

	return cfg, nil
}

func trimmed(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}

	return ""
}

func positiveSeconds(v *viper.Viper, key string, problems []string) (time.Duration, []string) {
	seconds := v.GetInt(key)
	if seconds <= 0 {
		return 0, append(problems, fmt.Sprintf("%s must be a positive integer.", key))
	}

	return time.Duration(seconds) * time.Second, problems
}
