package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Auth        AuthConfig
	Redis       RedisConfig
	DeviceStore DeviceStoreConfig
	WhatsApp    WhatsAppConfig
	KeepAlive   KeepAliveConfig
	HealthCheck HealthCheckConfig
	Reconnect   ReconnectConfig
	Webhook     WebhookConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type AuthConfig struct {
	AdminAPIKey string
}

type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
	URL      string
}

type DeviceStoreConfig struct {
	Dialect         string
	DSN             string
	BaseDir         string
	PostgresHost    string
	PostgresPort    int
	PostgresDB      string
	PostgresUser    string
	PostgresPass    string
	PostgresSSLMode string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type WhatsAppConfig struct {
	ConnectTimeout   time.Duration
	QRTimeout        time.Duration
	ShowQRInTerminal bool
}

type KeepAliveConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMissedPongs int
}

type HealthCheckConfig struct {
	Interval    time.Duration
	MaxIdleTime time.Duration
}

type ReconnectConfig struct {
	Auto        bool
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type WebhookConfig struct {
	URL           string
	AuthType      string
	AuthUser      string
	AuthPassword  string
	AuthToken     string
	SkipStatus    bool
	SkipGroups    bool
	SkipChannels  bool
	SkipBlocked   bool
	AllowedEvents []string
	DeniedEvents  []string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	BatchSize     int
}

type LoggingConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {

	if err := godotenv.Load(); err != nil {

		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("PORT", 3001),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Password: getEnv("REDIS_PASSWORD", ""),
			URL:      getEnv("REDIS_URL", ""),
		},
		DeviceStore: DeviceStoreConfig{
			Dialect:         getEnv("DEVICE_STORE_DIALECT", "sqlite"),
			DSN:             getEnv("DEVICE_STORE_DSN", ""),
			BaseDir:         getEnv("AUTH_BASE_DIR", "./auth"),
			PostgresHost:    getEnv("POSTGRES_HOST", "localhost"),
			PostgresPort:    getEnvAsInt("POSTGRES_PORT", 5432),
			PostgresDB:      getEnv("POSTGRES_DB", "zegate"),
			PostgresUser:    getEnv("POSTGRES_USER", "zegate"),
			PostgresPass:    getEnv("POSTGRES_PASSWORD", ""),
			PostgresSSLMode: getEnv("POSTGRES_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DEVICE_STORE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DEVICE_STORE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DEVICE_STORE_CONN_MAX_LIFETIME", 15*time.Minute),
		},
		WhatsApp: WhatsAppConfig{
			ConnectTimeout:   getEnvAsMillis("CONNECT_TIMEOUT_MS", 60*time.Second),
			QRTimeout:        getEnvAsMillis("QR_TIMEOUT", 60*time.Second),
			ShowQRInTerminal: getEnvAsBool("SHOW_QR_IN_TERMINAL", false),
		},
		KeepAlive: KeepAliveConfig{
			PingInterval:   getEnvAsMillis("KEEP_ALIVE_PING_INTERVAL", 30*time.Second),
			PongTimeout:    getEnvAsMillis("KEEP_ALIVE_PONG_TIMEOUT", 10*time.Second),
			MaxMissedPongs: getEnvAsInt("KEEP_ALIVE_MAX_MISSED_PONGS", 3),
		},
		HealthCheck: HealthCheckConfig{
			Interval:    getEnvAsMillis("HEALTH_CHECK_INTERVAL", 60*time.Second),
			MaxIdleTime: getEnvAsMillis("HEALTH_CHECK_MAX_IDLE_TIME", 300*time.Second),
		},
		Reconnect: ReconnectConfig{
			Auto:        getEnvAsBool("AUTO_RECONNECT", true),
			MaxAttempts: getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10),
			BaseDelay:   getEnvAsMillis("RECONNECT_BASE_DELAY", 5*time.Second),
			MaxDelay:    getEnvAsMillis("RECONNECT_MAX_DELAY", 60*time.Second),
		},
		Webhook: WebhookConfig{
			URL:           getEnv("WEBHOOK_URL", ""),
			AuthType:      getEnv("WEBHOOK_AUTH_TYPE", ""),
			AuthUser:      getEnv("WEBHOOK_AUTH_USER", ""),
			AuthPassword:  getEnv("WEBHOOK_AUTH_PASSWORD", ""),
			AuthToken:     getEnv("WEBHOOK_AUTH_TOKEN", ""),
			SkipStatus:    getEnvAsBool("WEBHOOK_SKIP_STATUS", true),
			SkipGroups:    getEnvAsBool("WEBHOOK_SKIP_GROUPS", false),
			SkipChannels:  getEnvAsBool("WEBHOOK_SKIP_CHANNELS", true),
			SkipBlocked:   getEnvAsBool("WEBHOOK_SKIP_BLOCKED", false),
			AllowedEvents: getEnvAsSlice("WEBHOOK_ALLOWED_EVENTS", []string{}, ","),
			DeniedEvents:  getEnvAsSlice("WEBHOOK_DENIED_EVENTS", []string{}, ","),
			Timeout:       getEnvAsDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxRetries:    getEnvAsInt("WEBHOOK_MAX_RETRIES", 3),
			RetryDelay:    getEnvAsMillis("WEBHOOK_RETRY_DELAY", 5*time.Second),
			BatchSize:     getEnvAsInt("WEBHOOK_BATCH_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnvAsBool("LOG_PRETTY", true),
		},
	}

	if config.Redis.URL == "" {
		config.Redis.URL = fmt.Sprintf(
			"redis://:%s@%s:%d/%d",
			config.Redis.Password,
			config.Redis.Host,
			config.Redis.Port,
			config.Redis.DB,
		)
	}

	if config.DeviceStore.DSN == "" {
		switch config.DeviceStore.Dialect {
		case "postgres":
			config.DeviceStore.DSN = fmt.Sprintf(
				"postgres://%s:%s@%s:%d/%s?sslmode=%s",
				config.DeviceStore.PostgresUser,
				config.DeviceStore.PostgresPass,
				config.DeviceStore.PostgresHost,
				config.DeviceStore.PostgresPort,
				config.DeviceStore.PostgresDB,
				config.DeviceStore.PostgresSSLMode,
			)
		default:
			config.DeviceStore.DSN = fmt.Sprintf(
				"file:%s/devices.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(3000)",
				strings.TrimRight(config.DeviceStore.BaseDir, "/"),
			)
		}
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	switch c.Webhook.AuthType {
	case "", "basic", "token", "bearer":
	default:
		return fmt.Errorf("invalid webhook auth type: %s", c.Webhook.AuthType)
	}
	switch c.DeviceStore.Dialect {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid device store dialect: %s", c.DeviceStore.Dialect)
	}
	if c.Webhook.BatchSize <= 0 {
		return fmt.Errorf("webhook batch size must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) GetServerAddress() string {
	return net.JoinHostPort(c.Server.Host, fmt.Sprintf("%d", c.Server.Port))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {

		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}

		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

// getEnvAsMillis aceita duração ("30s") ou inteiro em milissegundos
func getEnvAsMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {

		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}

		if millis, err := strconv.Atoi(value); err == nil {
			return time.Duration(millis) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string, separator string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, separator)
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}
