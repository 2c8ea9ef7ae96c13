package configuration

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type MongoConfig struct {
	Uri                     string `json:"uri"`
	Database                string `json:"database"`
	ConnectionsCollection   string `json:"connectionsCollection"`
	MessagesCollection      string `json:"messagesCollection"`
	StatusesCollection      string `json:"statusesCollection"`
	NotificationsCollection string `json:"notificationsCollection"`
	DeliveriesCollection    string `json:"deliveriesCollection"`
	RollupsCollection       string `json:"rollupsCollection"`
	SocketRoute             string `json:"socketRoute"`
}

type ServerConfig struct {
	AppPort    int `json:"app_port"`
	SocketPort int `json:"socket_port"`
}

type AuthConfig struct {
	JwtSecret string `json:"jwt_secret"`
}

type JobsConfig struct {
	RetryInterval   string `json:"retry_interval"`   // e.g. "30m"
	RetryTimeout    string `json:"retry_timeout"`    // e.g. "300s"
	CleanupInterval string `json:"cleanup_interval"` // e.g. "24h"
	CleanupTimeout  string `json:"cleanup_timeout"`  // e.g. "900s"
}

type RetentionConfig struct {
	ConnectionTTL    string `json:"connection_ttl"`    // passive expiry window
	StatusTTL        string `json:"status_ttl"`        // live status lifetime
	MessageRetention string `json:"message_retention"` // chat history retention
}

type EmailConfig struct {
	SmtpHost string `json:"smtp_host"`
	SmtpPort int    `json:"smtp_port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

type TelegramConfig struct {
	BotToken string `json:"bot_token"`
}

type ChannelsConfig struct {
	Email    EmailConfig    `json:"email"`
	Telegram TelegramConfig `json:"telegram"`
}

type Config struct {
	ChatDatabase MongoConfig     `json:"mongo"`
	Server       ServerConfig    `json:"server"`
	Auth         AuthConfig      `json:"auth"`
	Jobs         JobsConfig      `json:"jobs"`
	Retention    RetentionConfig `json:"retention"`
	Channels     ChannelsConfig  `json:"channels"`
}

func LoadConfig(configPath string) (*Config, error) {
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var config Config
	err = json.Unmarshal(file, &config)
	if err != nil {
		return nil, err
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(c *Config) {
	if c.Jobs.RetryInterval == "" {
		c.Jobs.RetryInterval = "30m"
	}
	if c.Jobs.RetryTimeout == "" {
		c.Jobs.RetryTimeout = "300s"
	}
	if c.Jobs.CleanupInterval == "" {
		c.Jobs.CleanupInterval = "24h"
	}
	if c.Jobs.CleanupTimeout == "" {
		c.Jobs.CleanupTimeout = "900s"
	}
	if c.Retention.ConnectionTTL == "" {
		c.Retention.ConnectionTTL = "2h"
	}
	if c.Retention.StatusTTL == "" {
		c.Retention.StatusTTL = "24h"
	}
	if c.Retention.MessageRetention == "" {
		c.Retention.MessageRetention = "720h" // 30 days
	}
	if c.ChatDatabase.SocketRoute == "" {
		c.ChatDatabase.SocketRoute = "ws"
	}
}

// Duration parses a config duration string, failing loudly on bad input so
// a typo never silently disables a job.
func Duration(value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return d, nil
}
