package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	Security SecurityConfig
	Captcha  CaptchaConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string // CIDR ranges allowed to set X-Forwarded-For
}

type AuthConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// SecurityConfig holds the brute-force defense knobs. The IP-level and
// account-level mechanisms are independent layers and both are enforced.
type SecurityConfig struct {
	// Per-IP blocking
	BlockThreshold       int           // failed attempts from one IP before blocking
	ProgressiveThreshold int           // failed attempts before the 7-day bracket
	CountingWindow       time.Duration // sliding window for the failed-attempt counter
	DefaultBlockDuration time.Duration // lowest escalation bracket
	NotBlockedCacheTTL   time.Duration // how long "not blocked" verdicts are cached

	// Per-account lockout
	AccountLockThreshold int
	AccountLockDuration  time.Duration

	// Maintenance
	CleanupInterval  time.Duration
	AttemptRetention time.Duration
}

type CaptchaConfig struct {
	Enabled   bool
	VerifyURL string
	SecretKey string
	MinScore  float64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 1*time.Second),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 1*time.Second),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: parseTrustedProxies(),
		},
		Auth: AuthConfig{
			JWTSecret:   jwtSecret,
			TokenExpiry: getEnvAsDuration("TOKEN_EXPIRY", 24*time.Hour),
		},
		Security: SecurityConfig{
			BlockThreshold:       getEnvAsInt("IP_BLOCK_THRESHOLD", 10),
			ProgressiveThreshold: getEnvAsInt("IP_PROGRESSIVE_THRESHOLD", 15),
			CountingWindow:       getEnvAsDuration("IP_COUNTING_WINDOW", 1*time.Hour),
			DefaultBlockDuration: getEnvAsDuration("IP_BLOCK_DURATION", 24*time.Hour),
			NotBlockedCacheTTL:   getEnvAsDuration("IP_NOT_BLOCKED_CACHE_TTL", 1*time.Minute),
			AccountLockThreshold: getEnvAsInt("ACCOUNT_LOCK_THRESHOLD", 5),
			AccountLockDuration:  getEnvAsDuration("ACCOUNT_LOCK_DURATION", 30*time.Minute),
			CleanupInterval:      getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			AttemptRetention:     getEnvAsDuration("ATTEMPT_RETENTION", 30*24*time.Hour),
		},
		Captcha: CaptchaConfig{
			Enabled:   getEnvAsBool("CAPTCHA_ENABLED", false),
			VerifyURL: getEnv("CAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
			SecretKey: getEnv("CAPTCHA_SECRET_KEY", ""),
			MinScore:  getEnvAsFloat("CAPTCHA_MIN_SCORE", 0.5),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Captcha.Enabled && cfg.Captcha.SecretKey == "" {
		return nil, fmt.Errorf("CAPTCHA_SECRET_KEY is required when CAPTCHA_ENABLED is set")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := validateSecurity(&cfg.Security); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for the JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// validateSecurity rejects threshold combinations that would disable the defense
func validateSecurity(sec *SecurityConfig) error {
	if sec.BlockThreshold < 1 {
		return fmt.Errorf("IP_BLOCK_THRESHOLD must be at least 1 (got %d)", sec.BlockThreshold)
	}
	if sec.ProgressiveThreshold < sec.BlockThreshold {
		return fmt.Errorf("IP_PROGRESSIVE_THRESHOLD (%d) must not be below IP_BLOCK_THRESHOLD (%d)",
			sec.ProgressiveThreshold, sec.BlockThreshold)
	}
	if sec.AccountLockThreshold < 1 {
		return fmt.Errorf("ACCOUNT_LOCK_THRESHOLD must be at least 1 (got %d)", sec.AccountLockThreshold)
	}
	if sec.CountingWindow <= 0 {
		return fmt.Errorf("IP_COUNTING_WINDOW must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseTrustedProxies() []string {
	proxiesStr := getEnv("TRUSTED_PROXIES", "")
	if proxiesStr == "" {
		return nil
	}
	proxies := strings.Split(proxiesStr, ",")
	for i, p := range proxies {
		proxies[i] = strings.TrimSpace(p)
	}
	return proxies
}
