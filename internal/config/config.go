package config

import (
	"strconv"
	"strings"
	"time"

	"chatlink-backend/pkg/env"
)

// Config holds everything the chat service reads from the environment
type Config struct {
	Env  string
	Port string

	DBHost    string
	DBPort    string
	DBUser    string
	DBName    string
	DBSSLMode string

	CassandraHosts    []string
	CassandraKeyspace string
	CassandraUser     string
	CassandraPassword string

	RedisHost     string
	RedisPort     int
	RedisPassword string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool
	MinIOBucket    string

	JWTSecret      string
	AccessTokenTTL time.Duration

	MaxConnections int
	RingTimeout    time.Duration
	OfflineGrace   time.Duration
}

// LoadConfig reads configuration from the environment, with defaults suited
// to local development. Secrets support the _FILE convention for Docker.
func LoadConfig() *Config {
	return &Config{
		Env:  env.GetString("ENV", "development"),
		Port: env.GetString("PORT", "8080"),

		DBHost:    env.GetString("DB_HOST", "localhost"),
		DBPort:    env.GetString("DB_PORT", "26257"),
		DBUser:    env.GetString("DB_USER", "root"),
		DBName:    env.GetString("DB_NAME", "chatlink"),
		DBSSLMode: env.GetString("DB_SSLMODE", "disable"),

		CassandraHosts:    splitHosts(env.GetString("CASSANDRA_HOSTS", "localhost")),
		CassandraKeyspace: env.GetString("CASSANDRA_KEYSPACE", "chatlink"),
		CassandraUser:     env.GetString("CASSANDRA_USER", ""),
		CassandraPassword: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),

		RedisHost:     env.GetString("REDIS_HOST", "localhost"),
		RedisPort:     env.GetInt("REDIS_PORT", 6379),
		RedisPassword: env.GetStringFromFile("REDIS_PASSWORD", ""),

		MinIOEndpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
		MinIOUseSSL:    env.GetBool("MINIO_USE_SSL", false),
		MinIOBucket:    env.GetString("MINIO_BUCKET", "chatlink-attachments"),

		JWTSecret:      env.GetStringFromFile("JWT_SECRET", "dev-secret-change-me"),
		AccessTokenTTL: env.GetDuration("ACCESS_TOKEN_TTL", 15*time.Minute),

		MaxConnections: env.GetInt("WS_MAX_CONNECTIONS", 1000),
		RingTimeout:    env.GetDuration("CALL_RING_TIMEOUT", 45*time.Second),
		OfflineGrace:   env.GetDuration("PRESENCE_OFFLINE_GRACE", 3*time.Second),
	}
}

// GetDBConnectionString returns the CockroachDB connection string
func (c *Config) GetDBConnectionString() string {
	return "host=" + c.DBHost + " port=" + c.DBPort + " user=" + c.DBUser +
		" dbname=" + c.DBName + " sslmode=" + c.DBSSLMode
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return c.RedisHost + ":" + strconv.Itoa(c.RedisPort)
}

func splitHosts(raw string) []string {
	parts := strings.Split(raw, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			hosts = append(hosts, trimmed)
		}
	}
	return hosts
}
