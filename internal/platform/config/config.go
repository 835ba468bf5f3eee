package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	Server        ServerConfig
	Database      DatabaseConfig
	Storage       StorageConfig
	Auth          AuthConfig
	Roles         RolesConfig
	Notifications NotificationsConfig
	Engine        EngineConfig
	Expiry        ExpiryConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

type ServerConfig struct {
	Port            int
	GRPCPort        int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
	AutoMigrate bool
}

// StorageConfig selects the persistence backend: "postgres" or "memory".
type StorageConfig struct {
	Driver string
}

type AuthConfig struct {
	JWTSigningKey string
}

// RolesConfig seeds approver role grants at startup. Assignments is a
// comma-separated list of role:user_id:email triples.
type RolesConfig struct {
	Assignments string
}

type NotificationsConfig struct {
	NATSURL         string
	Subject         string
	DispatchTimeout time.Duration
}

type EngineConfig struct {
	MaxCASAttempts int
}

// ExpiryConfig drives the reminder sweep. A zero SweepInterval disables it.
type ExpiryConfig struct {
	SweepInterval  time.Duration
	ReminderWindow time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is honoured when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "be-risk-exceptions"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8086),
			GRPCPort:        getEnvInt("GRPC_PORT", 9086),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", "postgres"),
			Database:    getEnv("DB_NAME", "risk_exceptions"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns:    int32(getEnvInt("DB_MIN_CONNS", 2)),
			MaxConnTime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			HealthCheck: getEnvDuration("DB_HEALTH_CHECK_PERIOD", time.Minute),
			AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", false),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(getEnv("STORAGE_DRIVER", "postgres")),
		},
		Auth: AuthConfig{
			JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		},
		Roles: RolesConfig{
			Assignments: os.Getenv("ROLE_ASSIGNMENTS"),
		},
		Notifications: NotificationsConfig{
			NATSURL:         os.Getenv("NATS_URL"),
			Subject:         getEnv("NOTIFICATIONS_SUBJECT", "notifications.exceptions.email"),
			DispatchTimeout: getEnvDuration("NOTIFICATIONS_DISPATCH_TIMEOUT", 10*time.Second),
		},
		Engine: EngineConfig{
			MaxCASAttempts: getEnvInt("ENGINE_MAX_CAS_ATTEMPTS", 3),
		},
		Expiry: ExpiryConfig{
			SweepInterval:  getEnvDuration("EXPIRY_SWEEP_INTERVAL", 0),
			ReminderWindow: getEnvDuration("EXPIRY_REMINDER_WINDOW", 14*24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Auth.JWTSigningKey == "" {
		if !strings.EqualFold(c.Service.Environment, "development") {
			return fmt.Errorf("JWT_SIGNING_KEY is required outside development")
		}
		c.Auth.JWTSigningKey = "dev-secret-key-change-in-production"
	}
	if c.Engine.MaxCASAttempts < 1 {
		return fmt.Errorf("ENGINE_MAX_CAS_ATTEMPTS must be at least 1")
	}
	if c.Expiry.SweepInterval < 0 {
		return fmt.Errorf("EXPIRY_SWEEP_INTERVAL must not be negative")
	}
	return nil
}

// DSN returns a pgx connection string for the configured database.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
