package config

import (
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string

	Commerce CommerceConfig
	Pipeline PipelineConfig
	Ledger   LedgerConfig

	// UsageCallbackSecret authenticates the out-of-band usage callback.
	UsageCallbackSecret string
}

// CommerceConfig configures the Commerce Platform admin API client.
type CommerceConfig struct {
	APIVersion  string
	HTTPTimeout int
}

// PipelineConfig configures the external processing pipeline.
type PipelineConfig struct {
	Region          string
	InputBucket     string
	StateMachineARN string
	RemovalFunction string
}

// LedgerConfig configures the Usage Ledger SaaS client.
type LedgerConfig struct {
	BaseURL string
	AppID   string
	APIKey  string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "brandseal"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "brandseal"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		Commerce: CommerceConfig{
			APIVersion:  getenv("COMMERCE_API_VERSION", "2024-07"),
			HTTPTimeout: getenvInt("COMMERCE_HTTP_TIMEOUT", 30),
		},
		Pipeline: PipelineConfig{
			Region:          getenv("PIPELINE_REGION", "us-east-1"),
			InputBucket:     getenv("PIPELINE_INPUT_BUCKET", "brandseal-input"),
			StateMachineARN: getenv("PIPELINE_STATE_MACHINE_ARN", ""),
			RemovalFunction: getenv("PIPELINE_REMOVAL_FUNCTION", "brandseal-remove"),
		},
		Ledger: LedgerConfig{
			BaseURL: getenv("LEDGER_BASE_URL", "https://appapi.usageledger.com/v1"),
			AppID:   getenv("LEDGER_APP_ID", ""),
			APIKey:  getenv("LEDGER_API_KEY", ""),
		},

		UsageCallbackSecret: strings.TrimSpace(getenv("USAGE_CALLBACK_SECRET", "")),
	}

	return cfg
}
