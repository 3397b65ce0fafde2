package config

import (
	"errors"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const EnvProduction = "production"

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Refresh     RefreshConfig
	Hashing     HashingConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	S3          S3Config
	CORS        CORSConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TrustProxy   bool
}

type DatabaseConfig struct {
	URL         string
	AutoMigrate bool
}

type JWTConfig struct {
	Secret       string
	AccessExpiry time.Duration
}

type RefreshConfig struct {
	Expiry     time.Duration
	CookiePath string
}

// HashParams are argon2id cost parameters. Memory is in KiB.
type HashParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

type HashingConfig struct {
	Password      HashParams
	RefreshSecret HashParams
	// MaxConcurrent bounds simultaneous argon2 computations; 0 means GOMAXPROCS.
	MaxConcurrent int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	RegisterPerMinute int
	LoginPerMinute    int
	AvatarPerMinute   int
}

type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

// IsProduction reports whether cookies must be marked Secure.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Validate rejects settings that are unsafe or unusable.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("JWT_ACCESS_SECRET is required")
	}
	if c.IsProduction() && c.JWT.Secret == defaultAccessSecret {
		return errors.New("JWT_ACCESS_SECRET must be set in production")
	}
	if c.JWT.AccessExpiry <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	if c.Refresh.Expiry <= 0 {
		return errors.New("REFRESH_TOKEN_TTL must be positive")
	}
	if !strings.HasPrefix(c.Refresh.CookiePath, "/") {
		return errors.New("REFRESH_COOKIE_PATH must start with /")
	}
	return nil
}

const defaultAccessSecret = "dev-access-secret"

// Load reads configuration from the environment once at startup. A .env file
// in the working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnvMulti([]string{"APP_ENV", "NODE_ENV"}, "development"),
		Server: ServerConfig{
			Port:         getEnvMulti([]string{"PORT", "SERVER_PORT"}, "4000"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			TrustProxy:   getBoolEnv("TRUST_PROXY", false),
		},
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			AutoMigrate: getBoolEnv("DB_AUTO_MIGRATE", true),
		},
		JWT: JWTConfig{
			Secret:       getEnv("JWT_ACCESS_SECRET", defaultAccessSecret),
			AccessExpiry: getDurationEnv("ACCESS_TOKEN_TTL", 15*time.Minute),
		},
		Refresh: RefreshConfig{
			Expiry:     getDurationEnv("REFRESH_TOKEN_TTL", 7*24*time.Hour),
			CookiePath: getEnv("REFRESH_COOKIE_PATH", "/api/auth/refresh"),
		},
		Hashing: HashingConfig{
			Password: HashParams{
				Memory:      uint32(getIntEnv("PASSWORD_HASH_MEMORY_KIB", 19456)),
				Time:        uint32(getIntEnv("PASSWORD_HASH_TIME", 2)),
				Parallelism: uint8(getIntEnv("PASSWORD_HASH_PARALLELISM", 1)),
			},
			RefreshSecret: HashParams{
				Memory:      uint32(getIntEnv("REFRESH_HASH_MEMORY_KIB", 4096)),
				Time:        uint32(getIntEnv("REFRESH_HASH_TIME", 1)),
				Parallelism: uint8(getIntEnv("REFRESH_HASH_PARALLELISM", 1)),
			},
			MaxConcurrent: getIntEnv("HASH_MAX_CONCURRENT", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			RegisterPerMinute: getIntEnv("RATE_LIMIT_REGISTER_PER_MINUTE", 5),
			LoginPerMinute:    getIntEnv("RATE_LIMIT_LOGIN_PER_MINUTE", 10),
			AvatarPerMinute:   getIntEnv("RATE_LIMIT_AVATAR_PER_MINUTE", 5),
		},
		S3: S3Config{
			Endpoint:     getEnvMulti([]string{"S3_ENDPOINT", "MINIO_ENDPOINT"}, "http://minio:9000"),
			Region:       getEnv("S3_REGION", "us-east-1"),
			AccessKey:    getEnvMulti([]string{"S3_ACCESS_KEY", "MINIO_ACCESS_KEY"}, "minio"),
			SecretKey:    getEnvMulti([]string{"S3_SECRET_KEY", "MINIO_SECRET_KEY"}, "minio123"),
			Bucket:       getEnvMulti([]string{"S3_BUCKET", "MINIO_BUCKET"}, "avatars"),
			UsePathStyle: getBoolEnv("S3_USE_PATH_STYLE", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getSliceEnv("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		},
	}
}

func getEnvMulti(keys []string, defaultValue string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, ok := ParseTTL(value); ok {
			return d
		}
	}
	return defaultValue
}

var ttlPattern = regexp.MustCompile(`^(\d+)([smhd])?$`)

// ParseTTL accepts "900" (seconds), "15m", "12h", "7d" and any value
// understood by time.ParseDuration.
func ParseTTL(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if m := ttlPattern.FindStringSubmatch(value); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, false
		}
		unit := time.Second
		switch m[2] {
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		}
		return time.Duration(n) * unit, true
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, true
	}
	return 0, false
}
