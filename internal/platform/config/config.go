package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	APIKey    string `mapstructure:"api_key"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type WhatsAppConfig struct {
	CredentialRoot string        `mapstructure:"credential_root"`
	ClientName     string        `mapstructure:"client_name"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	ReadyTimeout   time.Duration `mapstructure:"ready_timeout"`
}

type WebhooksConfig struct {
	StorePath       string        `mapstructure:"store_path"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

type RateLimitConfig struct {
	MessagesPerMinute int `mapstructure:"messages_per_minute"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("whatsapp.credential_root", "./.credentials")
	viper.SetDefault("whatsapp.client_name", "waygate")
	viper.SetDefault("whatsapp.settle_delay", "1s")
	viper.SetDefault("whatsapp.ready_timeout", "30s")
	viper.SetDefault("webhooks.store_path", "./waygate-webhooks.db")
	viper.SetDefault("webhooks.delivery_timeout", "10s")
	viper.SetDefault("rate_limit.messages_per_minute", 60)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
