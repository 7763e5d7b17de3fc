package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Supported values for DB_DRIVER.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
)

// MaxCapacity bounds ENROLLMENT_CAPACITY so class roll sequences stay two digits.
const MaxCapacity = 99

type Config struct {
	Env string

	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	Enrollment EnrollmentConfig
	Export     ExportConfig
	Legacy     LegacyConfig
	Cache      CacheConfig
	Metrics    MetricsConfig
}

type DatabaseConfig struct {
	Driver       string
	Path         string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	PRNStart     int64
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// EnrollmentConfig governs division packing and identity derivation.
type EnrollmentConfig struct {
	Capacity      int
	Divisions     []string
	CollegeDomain string
}

// ExportConfig controls where rendered branch exports are written.
type ExportConfig struct {
	Dir string
}

// LegacyConfig points at the JSON files written by the pre-database tool.
type LegacyConfig struct {
	DataDir string
}

// CacheConfig toggles the redis-backed profile cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// MetricsConfig optionally dumps Prometheus metrics to a node-exporter textfile.
type MetricsConfig struct {
	TextfilePath string
}

// Load reads configuration from envFile (".env" when empty) and the environment.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}
	cfg.Env = v.GetString("ENV")

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
		Path:         v.GetString("DB_PATH"),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		PRNStart:     v.GetInt64("PRN_START"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Enrollment = EnrollmentConfig{
		Capacity:      v.GetInt("ENROLLMENT_CAPACITY"),
		Divisions:     splitAndTrim(v.GetString("ENROLLMENT_DIVISIONS")),
		CollegeDomain: strings.ToLower(strings.TrimSpace(v.GetString("COLLEGE_DOMAIN"))),
	}

	cfg.Export = ExportConfig{Dir: v.GetString("EXPORT_DIR")}
	cfg.Legacy = LegacyConfig{DataDir: v.GetString("LEGACY_DATA_DIR")}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_PROFILE_CACHE"),
		TTL:     parseDuration(v.GetString("PROFILE_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Metrics = MetricsConfig{TextfilePath: v.GetString("METRICS_TEXTFILE")}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the allocator cannot honour.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverPGX:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Enrollment.Capacity < 1 || c.Enrollment.Capacity > MaxCapacity {
		return fmt.Errorf("ENROLLMENT_CAPACITY must be between 1 and %d, got %d", MaxCapacity, c.Enrollment.Capacity)
	}
	if len(c.Enrollment.Divisions) == 0 {
		return errors.New("ENROLLMENT_DIVISIONS must list at least one division")
	}
	seen := make(map[string]struct{}, len(c.Enrollment.Divisions))
	for _, d := range c.Enrollment.Divisions {
		if _, dup := seen[d]; dup {
			return fmt.Errorf("duplicate division %q in ENROLLMENT_DIVISIONS", d)
		}
		seen[d] = struct{}{}
	}
	if c.Enrollment.CollegeDomain == "" {
		return errors.New("COLLEGE_DOMAIN must not be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)

	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DB_PATH", "db_data/students.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "college_records")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 1)
	v.SetDefault("DB_MAX_IDLE_CONNS", 1)
	v.SetDefault("PRN_START", 1001)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("ENROLLMENT_CAPACITY", 70)
	v.SetDefault("ENROLLMENT_DIVISIONS", "1,2,3")
	v.SetDefault("COLLEGE_DOMAIN", "college.edu")

	v.SetDefault("EXPORT_DIR", "db_data")
	v.SetDefault("LEGACY_DATA_DIR", "db_data")

	v.SetDefault("ENABLE_PROFILE_CACHE", false)
	v.SetDefault("PROFILE_CACHE_TTL", "10m")

	v.SetDefault("METRICS_TEXTFILE", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
