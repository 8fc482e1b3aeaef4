/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the reconciliation-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                        string `mapstructure:"SERVER_PORT"`
	DatabaseURL                       string `mapstructure:"DATABASE_URL"`
	RedisURL                          string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix              string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                       string `mapstructure:"RABBITMQ_URL"`
	InternalAPIKey                    string `mapstructure:"INTERNAL_API_KEY"`
	CardgateWebhookSecret             string `mapstructure:"CARDGATE_WEBHOOK_SECRET"`
	PayflowWebhookSecret              string `mapstructure:"PAYFLOW_WEBHOOK_SECRET"`
	InstapixPublicKey                 string `mapstructure:"INSTAPIX_PUBLIC_KEY"`
	CustomerServiceURL                string `mapstructure:"CUSTOMER_SERVICE_URL"`
	CustomerServiceInternalAPIKey     string `mapstructure:"CUSTOMER_SERVICE_INTERNAL_API_KEY"`
	FxServiceURL                      string `mapstructure:"FX_SERVICE_URL"`
	MaxConcurrentNotifications        int    `mapstructure:"MAX_CONCURRENT_NOTIFICATIONS"`
	WebhookRateLimitPerMinute         int    `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`
	IntegrationDispatchTimeoutSeconds int    `mapstructure:"INTEGRATION_DISPATCH_TIMEOUT_SECONDS"`
	DispatchDrainTimeoutSeconds       int    `mapstructure:"DISPATCH_DRAIN_TIMEOUT_SECONDS"`
	SweepSchedule                     string `mapstructure:"SWEEP_SCHEDULE"`
	SweepBatchLimit                   int    `mapstructure:"SWEEP_BATCH_LIMIT"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "lumapay:rate_limit")
	viper.SetDefault("MAX_CONCURRENT_NOTIFICATIONS", 16)
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 0)
	viper.SetDefault("INTEGRATION_DISPATCH_TIMEOUT_SECONDS", 20)
	viper.SetDefault("DISPATCH_DRAIN_TIMEOUT_SECONDS", 30)
	viper.SetDefault("SWEEP_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("SWEEP_BATCH_LIMIT", 100)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "RECONCILIATION_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "RECONCILIATION_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CARDGATE_WEBHOOK_SECRET")
	_ = viper.BindEnv("PAYFLOW_WEBHOOK_SECRET")
	_ = viper.BindEnv("INSTAPIX_PUBLIC_KEY")
	_ = viper.BindEnv("CUSTOMER_SERVICE_URL")
	_ = viper.BindEnv("CUSTOMER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("FX_SERVICE_URL")
	_ = viper.BindEnv("MAX_CONCURRENT_NOTIFICATIONS")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("INTEGRATION_DISPATCH_TIMEOUT_SECONDS")
	_ = viper.BindEnv("DISPATCH_DRAIN_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SWEEP_SCHEDULE")
	_ = viper.BindEnv("SWEEP_BATCH_LIMIT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("RECONCILIATION_SERVICE_INTERNAL_API_KEY"))
	}
	config.CustomerServiceInternalAPIKey = strings.TrimSpace(config.CustomerServiceInternalAPIKey)
	if config.CustomerServiceInternalAPIKey == "" {
		config.CustomerServiceInternalAPIKey = config.InternalAPIKey
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "lumapay:rate_limit"
	}

	if config.MaxConcurrentNotifications <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive MAX_CONCURRENT_NOTIFICATIONS; coercing to default\" value=%d", config.MaxConcurrentNotifications)
		config.MaxConcurrentNotifications = 16
	}
	if config.WebhookRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative WEBHOOK_RATE_LIMIT_PER_MINUTE; disabling rate limit\" value=%d", config.WebhookRateLimitPerMinute)
		config.WebhookRateLimitPerMinute = 0
	}
	if config.IntegrationDispatchTimeoutSeconds <= 0 {
		config.IntegrationDispatchTimeoutSeconds = 20
	}
	if config.DispatchDrainTimeoutSeconds <= 0 {
		config.DispatchDrainTimeoutSeconds = 30
	}
	if config.SweepBatchLimit <= 0 {
		config.SweepBatchLimit = 100
	}

	return
}
