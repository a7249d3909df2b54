package config

import (
	"fmt"     // For DSN formatting
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"time"    // For durations

	"github.com/joho/godotenv"   // For loading .env files
	"github.com/sirupsen/logrus" // For configuration warnings
)

// Supported database drivers
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the application configuration
type Config struct {
	AppPort            string        // Application port
	DBDriver           string        // Database driver: mysql, postgres or sqlite
	DBUser             string        // Database user
	DBPassword         string        // Database password
	DBHost             string        // Database host
	DBPort             string        // Database port
	DBName             string        // Database name
	DBPath             string        // SQLite file path
	JWTSecret          string        // JWT secret key
	JWTTTL             time.Duration // JWT lifetime
	RedisAddr          string        // Redis server address, empty disables cache and pub/sub
	RedisPass          string        // Redis password
	RedisDB            int           // Redis database number
	RedisEventsChannel string        // Pub/sub channel for outbound events
	CacheTTL           time.Duration // Round status cache lifetime
	LateSweepInterval  time.Duration // Late sweeper period, zero disables it
	InviteTTL          time.Duration // Invitation validity
	LogLevel           string        // logrus level name
	IsProd             bool          // Is production environment
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	return &Config{
		AppPort:            getEnv("APP_PORT", "8080"),
		DBDriver:           getEnv("DB_DRIVER", DriverMySQL),
		DBUser:             os.Getenv("DB_USER"),
		DBPassword:         os.Getenv("DB_PASSWORD"),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             os.Getenv("DB_PORT"),
		DBName:             getEnv("DB_NAME", "tontine"),
		DBPath:             getEnv("DB_PATH", "./data/tontine.db"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTTTL:             getDuration("JWT_TTL", 24*time.Hour),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPass:          os.Getenv("REDIS_PASS"),
		RedisDB:            redisDB,
		RedisEventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "tontine.events"),
		CacheTTL:           getDuration("CACHE_TTL", 30*time.Second),
		LateSweepInterval:  getDuration("LATE_SWEEP_INTERVAL", 0),
		InviteTTL:          getDuration("INVITE_TTL", 7*24*time.Hour),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		IsProd:             os.Getenv("IS_PROD") == "true", // Is production environment
	}
}

// DSN builds the data source name for the configured driver
func (c *Config) DSN() (string, error) {
	switch c.DBDriver {
	case DriverMySQL:
		port := c.DBPort
		if port == "" {
			port = "3306"
		}
		return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + port + ")/" + c.DBName + "?parseTime=true", nil
	case DriverPostgres:
		port := c.DBPort
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			c.DBHost, c.DBUser, c.DBPassword, c.DBName, port), nil
	case DriverSQLite:
		return c.DBPath, nil
	default:
		return "", fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

// getDuration parses a Go duration ("30s", "1h"), falling back on absent or malformed values
func getDuration(key string, fallback time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"key":      key,
			"value":    raw,
			"fallback": fallback.String(),
		}).Warn("Malformed duration, using default") // Keep a typo visible
		return fallback
	}
	return d
}
