package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort        string
	ServiceApiPort string

	// Orders
	// BuyerCancelAnyState lets buyers cancel from any non-terminal state
	// instead of only before seller confirmation.
	BuyerCancelAnyState bool

	// Disputes
	AdminEmail string

	// Invoices
	InvoiceQueueName  string
	InvoiceMaxRetries int

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string

	// AWS S3
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	FileBaseS3URL      string

	// Websocket
	WsWriteBufferSize   int
	WsSendQueueSize     int
	WsPingInterval      time.Duration
	WsPongWait          time.Duration
	WsAllowedOrigins    []string
	WsMaxMessageBytes   int64
	WsHandshakeDeadline time.Duration

	// App Defaults
	AppName string

	// Rate Limiting Defaults
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode, // Set from flag
	}

	var err error

	// Helper function to get env var or default
	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	// Helper function to get required env var
	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	// Load basic string values
	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.AdminEmail = getEnv("ADMIN_EMAIL", "")
	cfg.InvoiceQueueName = getEnv("INVOICE_QUEUE_NAME", "invoices")
	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@market.example.com")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.FileBaseS3URL = getEnv("FILE_BASE_S3_URL", "")
	cfg.AppName = getEnv("APP_NAME", "Tigray Marketplace")

	// Load numeric and time duration values with defaults and parsing
	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	jwtTTLSeconds, err := strconv.ParseInt(getEnv("JWT_TTL_SECONDS", "3600"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL_SECONDS: %w", err)
	}
	cfg.JwtTTL = time.Duration(jwtTTLSeconds) * time.Second

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	cfg.BuyerCancelAnyState, err = strconv.ParseBool(getEnv("BUYER_CANCEL_ANY_STATE", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid BUYER_CANCEL_ANY_STATE: %w", err)
	}

	cfg.InvoiceMaxRetries, err = strconv.Atoi(getEnv("INVOICE_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid INVOICE_MAX_RETRIES: %w", err)
	}

	cfg.WsWriteBufferSize, err = strconv.Atoi(getEnv("WS_WRITE_BUFFER_SIZE", "4096"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_BUFFER_SIZE: %w", err)
	}

	cfg.WsSendQueueSize, err = strconv.Atoi(getEnv("WS_SEND_QUEUE_SIZE", "64"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_SEND_QUEUE_SIZE: %w", err)
	}

	wsPingSeconds, err := strconv.ParseInt(getEnv("WS_PING_INTERVAL_SECONDS", "30"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid WS_PING_INTERVAL_SECONDS: %w", err)
	}
	cfg.WsPingInterval = time.Duration(wsPingSeconds) * time.Second

	wsPongSeconds, err := strconv.ParseInt(getEnv("WS_PONG_WAIT_SECONDS", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid WS_PONG_WAIT_SECONDS: %w", err)
	}
	cfg.WsPongWait = time.Duration(wsPongSeconds) * time.Second

	cfg.WsMaxMessageBytes, err = strconv.ParseInt(getEnv("WS_MAX_MESSAGE_BYTES", "16384"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid WS_MAX_MESSAGE_BYTES: %w", err)
	}

	wsHandshakeSeconds, err := strconv.ParseInt(getEnv("WS_HANDSHAKE_DEADLINE_SECONDS", "10"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid WS_HANDSHAKE_DEADLINE_SECONDS: %w", err)
	}
	cfg.WsHandshakeDeadline = time.Duration(wsHandshakeSeconds) * time.Second

	if origins := getEnv("WS_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.WsAllowedOrigins = splitAndTrim(origins)
	}

	// Rate Limiting
	cfg.RateLimitBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REFILL_RATE: %w", err)
	}

	return cfg, nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
