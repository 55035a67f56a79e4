package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	RerankInterval   time.Duration `mapstructure:"RERANK_INTERVAL"`
	RerankMaxRetries int           `mapstructure:"RERANK_MAX_RETRIES"`
	TicketMaxRetries int           `mapstructure:"TICKET_MAX_RETRIES"`

	TwilioAccountSID   string        `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string        `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber   string        `mapstructure:"TWILIO_FROM_NUMBER"`
	TwilioBaseURL      string        `mapstructure:"TWILIO_BASE_URL"`
	DefaultCountryCode string        `mapstructure:"DEFAULT_COUNTRY_CODE"`
	SMSRetryAttempts   int           `mapstructure:"SMS_RETRY_ATTEMPTS"`
	NotifyLedgerPath   string        `mapstructure:"NOTIFY_LEDGER_PATH"`
	NotifyTimeout      time.Duration `mapstructure:"NOTIFY_TIMEOUT"`

	AssistantBaseURL string        `mapstructure:"ASSISTANT_BASE_URL"`
	AssistantModel   string        `mapstructure:"ASSISTANT_MODEL"`
	AssistantAPIKey  string        `mapstructure:"ASSISTANT_API_KEY"`
	AssistantTTL     time.Duration `mapstructure:"ASSISTANT_CACHE_TTL"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("RERANK_INTERVAL", "1m")
	v.SetDefault("RERANK_MAX_RETRIES", 3)
	v.SetDefault("TICKET_MAX_RETRIES", 5)
	v.SetDefault("DEFAULT_COUNTRY_CODE", "91")
	v.SetDefault("SMS_RETRY_ATTEMPTS", 3)
	v.SetDefault("NOTIFY_LEDGER_PATH", "data/notifications.db")
	v.SetDefault("NOTIFY_TIMEOUT", "30s")
	v.SetDefault("ASSISTANT_CACHE_TTL", "10m")

	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "ADMIN_KEY", "TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN",
		"TWILIO_FROM_NUMBER", "TWILIO_BASE_URL", "ASSISTANT_BASE_URL", "ASSISTANT_MODEL", "ASSISTANT_API_KEY",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	if c.RerankInterval <= 0 {
		errs = append(errs, fmt.Errorf("RERANK_INTERVAL must be positive, got %s", c.RerankInterval))
	}
	if c.RerankMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("RERANK_MAX_RETRIES must be >= 1, got %d", c.RerankMaxRetries))
	}
	if c.TicketMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("TICKET_MAX_RETRIES must be >= 1, got %d", c.TicketMaxRetries))
	}
	if c.TwilioEnabled() && c.TwilioFromNumber == "" {
		errs = append(errs, errors.New("TWILIO_FROM_NUMBER is required when Twilio is configured"))
	}
	if c.Env == "prod" && c.AdminKey == "" {
		errs = append(errs, errors.New("ADMIN_KEY is required in prod"))
	}
	return errors.Join(errs...)
}

func (c Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

func (c Config) AssistantEnabled() bool {
	return c.AssistantBaseURL != "" && c.AssistantModel != ""
}
