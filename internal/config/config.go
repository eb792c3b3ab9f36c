package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Ledger   LedgerConfig
	Auth     AuthConfig
	Stripe   StripeConfig
	Workflow WorkflowConfig
	Presence PresenceConfig
}

type ServerConfig struct {
	Port         string
	PublicURL    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
}

type TopicConfig struct {
	StampUpdated string
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// LedgerConfig locates the platform's serverless function endpoints. The
// stamp/redeem business rules live behind them, not in this service.
type LedgerConfig struct {
	FunctionsBaseURL string
	RequestTimeout   time.Duration
}

type AuthConfig struct {
	OIDCIssuer   string
	TokenURL     string
	ClientID     string
	ClientSecret string
	QRSecret     string
}

type StripeConfig struct {
	SecretKey string
}

type WorkflowConfig struct {
	UndoWindow time.Duration
}

type PresenceConfig struct {
	HeartbeatTTL time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8090"),
			PublicURL:    getEnv("PUBLIC_URL", "http://localhost:8090"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // SSE streams must not be write-capped
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_ADDR", "localhost:9092")},
			GroupID: getEnv("KAFKA_GROUP_ID", "loyalty-gateway-group"),
			Topics: TopicConfig{
				StampUpdated: getEnv("KAFKA_TOPIC_STAMP_UPDATED", "loyalty.stamps.updated"),
			},
		},
		Database: DatabaseConfig{
			DSN:          getEnv("POSTGRES_DSN", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Ledger: LedgerConfig{
			FunctionsBaseURL: getEnv("FUNCTIONS_BASE_URL", "http://localhost:9000/functions/v1"),
			RequestTimeout:   getEnvDuration("LEDGER_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
			TokenURL:     getEnv("M2M_TOKEN_URL", ""),
			ClientID:     getEnv("M2M_CLIENT_ID", ""),
			ClientSecret: getEnv("M2M_CLIENT_SECRET", ""),
			QRSecret:     getEnv("QR_SECRET", "puffperks-qr-secret"),
		},
		Stripe: StripeConfig{
			SecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		},
		Workflow: WorkflowConfig{
			UndoWindow: getEnvDuration("UNDO_WINDOW", 3*time.Second),
		},
		Presence: PresenceConfig{
			HeartbeatTTL: getEnvDuration("PRESENCE_TTL", 45*time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
