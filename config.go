package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Bot       BotConfig       `mapstructure:"bot"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// GraphConfig holds Microsoft Graph API configuration
type GraphConfig struct {
	ClientID        string `mapstructure:"client_id"`
	ClientSecret    string `mapstructure:"client_secret"`
	TenantID        string `mapstructure:"tenant_id"`
	RefreshToken    string `mapstructure:"refresh_token"`
	NotificationURL string `mapstructure:"notification_url"`
	ClientState     string `mapstructure:"client_state"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

// OpenAIConfig holds OpenAI API configuration. An empty API key disables
// generation and the deterministic fallbacks take over.
type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// BotConfig holds notification and reply-flow configuration
type BotConfig struct {
	MaxSubscribers   int           `mapstructure:"max_subscribers"`
	SignOffClosing   string        `mapstructure:"sign_off_closing"`
	SignOffName      string        `mapstructure:"sign_off_name"`
	MaxMessageLength int           `mapstructure:"max_message_length"`
	ViewTTL          time.Duration `mapstructure:"view_ttl"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	ProcessedTTL     time.Duration `mapstructure:"processed_ttl"`
}

// SchedulerConfig holds subscription-renewal scheduler configuration
type SchedulerConfig struct {
	RenewalIntervalMinutes int           `mapstructure:"renewal_interval_minutes"`
	RenewalThreshold       time.Duration `mapstructure:"renewal_threshold"`
	PurgeIntervalMinutes   int           `mapstructure:"purge_interval_minutes"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	setDefaults()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()

	// Bind environment variables
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("graph.tenant_id", "common")
	viper.SetDefault("graph.client_state", "mail-inbox-subscription")

	viper.SetDefault("openai.model", "gpt-3.5-turbo")

	viper.SetDefault("bot.max_subscribers", 2)
	viper.SetDefault("bot.sign_off_closing", "Best regards,")
	viper.SetDefault("bot.max_message_length", 4096)
	viper.SetDefault("bot.view_ttl", "24h")
	viper.SetDefault("bot.session_ttl", "2h")
	viper.SetDefault("bot.processed_ttl", "720h")

	viper.SetDefault("scheduler.renewal_interval_minutes", 60)
	viper.SetDefault("scheduler.renewal_threshold", "24h")
	viper.SetDefault("scheduler.purge_interval_minutes", 30)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	// Microsoft Graph
	viper.BindEnv("graph.client_id", "GRAPH_CLIENT_ID")
	viper.BindEnv("graph.client_secret", "GRAPH_CLIENT_SECRET")
	viper.BindEnv("graph.tenant_id", "GRAPH_TENANT_ID")
	viper.BindEnv("graph.refresh_token", "GRAPH_REFRESH_TOKEN")
	viper.BindEnv("graph.notification_url", "GRAPH_NOTIFICATION_URL")
	viper.BindEnv("graph.client_state", "GRAPH_CLIENT_STATE")

	// Telegram
	viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")

	// OpenAI
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("openai.model", "OPENAI_MODEL")

	// Bot
	viper.BindEnv("bot.max_subscribers", "BOT_MAX_SUBSCRIBERS")
	viper.BindEnv("bot.sign_off_closing", "BOT_SIGN_OFF_CLOSING")
	viper.BindEnv("bot.sign_off_name", "BOT_SIGN_OFF_NAME")
	viper.BindEnv("bot.max_message_length", "BOT_MAX_MESSAGE_LENGTH")
	viper.BindEnv("bot.view_ttl", "BOT_VIEW_TTL")
	viper.BindEnv("bot.session_ttl", "BOT_SESSION_TTL")
	viper.BindEnv("bot.processed_ttl", "BOT_PROCESSED_TTL")

	// Scheduler
	viper.BindEnv("scheduler.renewal_interval_minutes", "SCHEDULER_RENEWAL_INTERVAL_MINUTES")
	viper.BindEnv("scheduler.renewal_threshold", "SCHEDULER_RENEWAL_THRESHOLD")
	viper.BindEnv("scheduler.purge_interval_minutes", "SCHEDULER_PURGE_INTERVAL_MINUTES")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Graph.ClientID == "" || c.Graph.ClientSecret == "" || c.Graph.RefreshToken == "" {
		return fmt.Errorf("Microsoft Graph OAuth2 credentials are required")
	}

	if c.Telegram.BotToken == "" {
		return fmt.Errorf("Telegram bot token is required")
	}

	if c.Bot.MaxSubscribers <= 0 {
		return fmt.Errorf("bot max_subscribers must be greater than 0")
	}

	if c.Bot.ViewTTL <= 0 || c.Bot.SessionTTL <= 0 || c.Bot.ProcessedTTL <= 0 {
		return fmt.Errorf("bot TTLs must be greater than 0")
	}

	if c.Scheduler.RenewalIntervalMinutes <= 0 {
		return fmt.Errorf("scheduler renewal interval must be greater than 0")
	}

	return nil
}
