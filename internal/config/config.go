package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	defaults "github.com/mcuadros/go-defaults"
)

// Oracle transports.
const (
	OracleHTTP = "http"
	OracleGRPC = "grpc"
)

// Config is the full service configuration. Values come from struct defaults,
// then an optional TOML file, then environment variables.
type Config struct {
	HTTP     HTTPConfig     `toml:"http"`
	Uploads  UploadsConfig  `toml:"uploads"`
	Oracle   OracleConfig   `toml:"oracle"`
	Redis    RedisConfig    `toml:"redis"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Log      LogConfig      `toml:"log"`
}

type HTTPConfig struct {
	Addr            string        `toml:"addr" default:":5000"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" default:"15s"`
	MaxUploadBytes  int64         `toml:"max_upload_bytes" default:"10485760"`
	CORSOrigins     string        `toml:"cors_origins" default:"*"`
}

type UploadsConfig struct {
	Dir string `toml:"dir" default:"uploads"`
}

type OracleConfig struct {
	Kind             string        `toml:"kind" default:"http"`
	Addr             string        `toml:"addr" default:"http://deepface:5005"`
	Model            string        `toml:"model" default:"ArcFace"`
	DistanceMetric   string        `toml:"distance_metric" default:"cosine"`
	EnforceDetection bool          `toml:"enforce_detection" default:"true"`
	Timeout          time.Duration `toml:"timeout" default:"60s"`
	Workers          int           `toml:"workers" default:"4"`
	QueueSize        int           `toml:"queue_size" default:"16"`
}

// RedisConfig leaves Addr empty by default; the result cache is disabled then.
type RedisConfig struct {
	Addr      string        `toml:"addr"`
	Password  string        `toml:"password"`
	DB        int           `toml:"db"`
	ResultTTL time.Duration `toml:"result_ttl" default:"10m"`
}

// DatabaseConfig leaves DSN empty by default; the audit log is disabled then.
type DatabaseConfig struct {
	DSN             string        `toml:"dsn"`
	MaxIdleConns    int           `toml:"max_idle_conns" default:"5"`
	MaxOpenConns    int           `toml:"max_open_conns" default:"10"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime" default:"1h"`
}

// AuthConfig enables bearer authentication when JWTSecret is set.
type AuthConfig struct {
	JWTSecret   string `toml:"jwt_secret"`
	JWTAudience string `toml:"jwt_audience"`
}

type LogConfig struct {
	Level        string        `toml:"level" default:"info"`
	File         string        `toml:"file"`
	MaxAge       time.Duration `toml:"max_age" default:"168h"`
	RotationTime time.Duration `toml:"rotation_time" default:"24h"`
}

// Default returns a Config populated from struct tag defaults only.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds the configuration from defaults, the TOML file named by
// CONFIG_FILE (if any) and environment overrides, then validates it.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile is Load with an explicit config file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.CORSOrigins = getEnv("CORS_ORIGINS", c.HTTP.CORSOrigins)
	c.Uploads.Dir = getEnv("UPLOAD_DIR", c.Uploads.Dir)
	c.Oracle.Kind = getEnv("ORACLE_KIND", c.Oracle.Kind)
	c.Oracle.Addr = getEnv("ORACLE_ADDR", c.Oracle.Addr)
	c.Oracle.Model = getEnv("ORACLE_MODEL", c.Oracle.Model)
	c.Oracle.DistanceMetric = getEnv("ORACLE_DISTANCE_METRIC", c.Oracle.DistanceMetric)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTAudience = getEnv("JWT_AUDIENCE", c.Auth.JWTAudience)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)

	var err error
	if c.HTTP.MaxUploadBytes, err = getEnvInt64("MAX_UPLOAD_BYTES", c.HTTP.MaxUploadBytes); err != nil {
		return err
	}
	if c.Oracle.EnforceDetection, err = getEnvBool("ORACLE_ENFORCE_DETECTION", c.Oracle.EnforceDetection); err != nil {
		return err
	}
	if c.Oracle.Timeout, err = getEnvDuration("ORACLE_TIMEOUT", c.Oracle.Timeout); err != nil {
		return err
	}
	workers, err := getEnvInt64("ORACLE_WORKERS", int64(c.Oracle.Workers))
	if err != nil {
		return err
	}
	c.Oracle.Workers = int(workers)
	if c.Redis.ResultTTL, err = getEnvDuration("REDIS_RESULT_TTL", c.Redis.ResultTTL); err != nil {
		return err
	}
	return nil
}

// Validate reports every invalid setting joined into one error.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("http.max_upload_bytes must be positive"))
	}
	if c.Uploads.Dir == "" {
		errs = append(errs, errors.New("uploads.dir is required"))
	}
	switch c.Oracle.Kind {
	case OracleHTTP, OracleGRPC:
	default:
		errs = append(errs, fmt.Errorf("oracle.kind must be %q or %q, got %q", OracleHTTP, OracleGRPC, c.Oracle.Kind))
	}
	if c.Oracle.Addr == "" {
		errs = append(errs, errors.New("oracle.addr is required"))
	}
	if c.Oracle.Model == "" || c.Oracle.DistanceMetric == "" {
		errs = append(errs, errors.New("oracle.model and oracle.distance_metric are required"))
	}
	if c.Oracle.Timeout <= 0 {
		errs = append(errs, errors.New("oracle.timeout must be positive"))
	}
	if c.Oracle.Workers <= 0 || c.Oracle.QueueSize < 0 {
		errs = append(errs, errors.New("oracle.workers must be positive and oracle.queue_size non-negative"))
	}
	return errors.Join(errs...)
}

// Origins splits the comma separated CORS origin list.
func (h HTTPConfig) Origins() []string {
	var origins []string
	for _, o := range strings.Split(h.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("env %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("env %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("env %s: %w", key, err)
	}
	return d, nil
}
