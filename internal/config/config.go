package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port         string   `env:"PORT" envDefault:"8080"`
	AllowOrigins []string `env:"ALLOW_ORIGINS" envDefault:"*" envSeparator:","`
	LogLevel     string   `env:"LOG_LEVEL" envDefault:"info"`

	LogstashTCPAddr string `env:"LOGSTASH_TCP_ADDR"`
	MetricsEnabled  bool   `env:"METRICS_ENABLED" envDefault:"true"`

	JobServiceURL     string        `env:"JOB_SERVICE_URL,required,notEmpty"`
	JobServiceTimeout time.Duration `env:"JOB_SERVICE_TIMEOUT" envDefault:"30s"`
	JWTSecret         string        `env:"JWT_SECRET"`

	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"1500ms"`
	EditDebounce   time.Duration `env:"EDIT_DEBOUNCE" envDefault:"500ms"`
	SearchDebounce time.Duration `env:"SEARCH_DEBOUNCE" envDefault:"400ms"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" envDefault:"5242880"`

	SessionTTL          time.Duration `env:"SESSION_TTL" envDefault:"2h"`
	MaxSessionsPerOwner int           `env:"MAX_SESSIONS_PER_OWNER" envDefault:"3"`

	DatabaseURL string `env:"DATABASE_URL"`

	MinIOEndpoint      string `env:"MINIO_ENDPOINT"`
	MinIOAccessKey     string `env:"MINIO_ACCESS_KEY"`
	MinIOSecretKey     string `env:"MINIO_SECRET_KEY"`
	MinIOUseSSL        bool   `env:"MINIO_USE_SSL" envDefault:"false"`
	MinIOBucketUploads string `env:"MINIO_BUCKET_UPLOADS" envDefault:"invite-console-uploads"`
	MinIOPublicURL     string `env:"MINIO_PUBLIC_URL"`
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	return Parse()
}

func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.AllowOrigins = splitAndTrim(strings.Join(cfg.AllowOrigins, ","))
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if u, err := url.Parse(c.JobServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("JOB_SERVICE_URL must be an absolute URL, got %q", c.JobServiceURL))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.EditDebounce <= 0 {
		errs = append(errs, errors.New("EDIT_DEBOUNCE must be positive"))
	}
	if c.SearchDebounce <= 0 {
		errs = append(errs, errors.New("SEARCH_DEBOUNCE must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.MinIOEnabled() && (c.MinIOAccessKey == "" || c.MinIOSecretKey == "") {
		errs = append(errs, errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required with MINIO_ENDPOINT"))
	}
	return errors.Join(errs...)
}

// HistoryEnabled reports whether upload history is persisted.
func (c Config) HistoryEnabled() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

// MinIOEnabled reports whether uploaded files are archived.
func (c Config) MinIOEnabled() bool {
	return strings.TrimSpace(c.MinIOEndpoint) != ""
}

func splitAndTrim(input string) []string {
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
