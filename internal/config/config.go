package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	defaultDatabasePath    = "data/diet-coach.db"
	defaultSearchDebounce  = 500 * time.Millisecond
	defaultSwapResultDelay = 1500 * time.Millisecond
	defaultPort            = "8080"
)

// Config holds the configuration for the application.
type Config struct {
	CoachAPIURL   string `yaml:"coach_api_url" validate:"required,url"`
	CoachAPIKey   string `yaml:"coach_api_key" validate:"omitempty,contains=:"`
	CoachAPIToken string `yaml:"coach_api_token"`

	// Telegram Config
	TelegramBotToken       string  `yaml:"telegram_bot_token"`
	TelegramWebhookURL     string  `yaml:"telegram_webhook_url" validate:"omitempty,url"`
	TelegramAllowedUserIDs []int64 `yaml:"telegram_allowed_user_ids"`
	AdminTelegramID        int64   `yaml:"admin_telegram_id"`

	// Voice transcription, optional
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GroqAPIKey   string `yaml:"groq_api_key"`

	DatabasePath    string         `yaml:"database_path"`
	Timezone        string         `yaml:"timezone"`
	Location        *time.Location `yaml:"-" validate:"-"`
	SearchDebounce  time.Duration  `yaml:"search_debounce" validate:"gte=0"`
	SwapResultDelay time.Duration  `yaml:"swap_result_delay" validate:"gte=0"`
	LogLevel        string         `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// Web surface
	Port         string `yaml:"port" validate:"omitempty,numeric"`
	WebJWTSecret string `yaml:"web_jwt_secret"`
}

// NewFromEnv creates a new Config object from environment variables. When
// DIET_COACH_CONFIG points at a YAML file it is read first and the environment
// overrides it.
func NewFromEnv() (*Config, error) {
	cfg := &Config{}
	if path := os.Getenv("DIET_COACH_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if cfg.CoachAPIURL == "" {
		return nil, fmt.Errorf("COACH_API_URL environment variable not set")
	}
	if cfg.CoachAPIKey == "" && cfg.CoachAPIToken == "" {
		return nil, fmt.Errorf("COACH_API_KEY or COACH_API_TOKEN environment variable not set")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid config field %s: failed %q check", verrs[0].Field(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("COACH_API_URL", &c.CoachAPIURL)
	setString("COACH_API_KEY", &c.CoachAPIKey)
	setString("COACH_API_TOKEN", &c.CoachAPIToken)
	setString("TELEGRAM_BOT_TOKEN", &c.TelegramBotToken)
	setString("TELEGRAM_WEBHOOK_URL", &c.TelegramWebhookURL)
	setString("GEMINI_API_KEY", &c.GeminiAPIKey)
	setString("GROQ_API_KEY", &c.GroqAPIKey)
	setString("DATABASE_PATH", &c.DatabasePath)
	setString("TIMEZONE", &c.Timezone)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("PORT", &c.Port)
	setString("WEB_JWT_SECRET", &c.WebJWTSecret)

	if v := os.Getenv("TELEGRAM_ALLOWED_USER_IDS"); v != "" {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS: %w", err)
		}
		c.TelegramAllowedUserIDs = ids
	}
	if v := os.Getenv("ADMIN_TELEGRAM_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
		c.AdminTelegramID = id
	}
	for key, dst := range map[string]*time.Duration{
		"SEARCH_DEBOUNCE":   &c.SearchDebounce,
		"SWAP_RESULT_DELAY": &c.SwapResultDelay,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DatabasePath == "" {
		c.DatabasePath = defaultDatabasePath
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.SearchDebounce == 0 {
		c.SearchDebounce = defaultSearchDebounce
	}
	if c.SwapResultDelay == 0 {
		c.SwapResultDelay = defaultSwapResultDelay
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == "" {
		c.Port = defaultPort
	}
}

func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// IsAllowed reports whether a Telegram user may use the bot.
func (c *Config) IsAllowed(userID int64) bool {
	for _, id := range c.TelegramAllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
