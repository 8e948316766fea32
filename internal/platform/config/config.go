// Package config loads engine settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pkgstrings "dsrengine/pkg/platform/strings"
)

// ExportExpiryPolicy selects when export packages are destroyed.
type ExportExpiryPolicy string

const (
	// ExpiryFixed destroys exports a fixed number of days after creation.
	ExpiryFixed ExportExpiryPolicy = "fixed"
	// ExpiryFirstDownload destroys exports a grace period after the first download,
	// still capped at the fixed retention.
	ExpiryFirstDownload ExportExpiryPolicy = "first_download"
)

// DeletionMethodThreePass is the only supported overwrite method.
const DeletionMethodThreePass = "three_pass_zero_one_random"

// Server captures HTTP server level configuration.
type Server struct {
	Addr              string
	OperatorJWTKey    string
	OperatorJWTIssuer string
	AdminToken        string
	LogLevel          string
	ReadTimeout       time.Duration
	// WriteTimeout bounds export downloads, so it follows the export size limit.
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxIdle  time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	Partitions    int32
}

type VerificationConfig struct {
	TokenExpiry        time.Duration
	TokenMaxAttempts   int
	MaxAttemptsPerHour int
	AttemptWindow      time.Duration
	LockoutDuration    time.Duration
	RiskThreshold      float64
	LowRiskCutoff      float64
	KBAPassRatio       float64
}

type ExportConfig struct {
	MaxSizeBytes  int64
	RetentionDays int
	ExpiryPolicy  ExportExpiryPolicy
	DownloadGrace time.Duration
	BlobDir       string
}

type DeletionConfig struct {
	Method               string
	CertificateRetention time.Duration
	SigningKeyPath       string
	SigningKeyID         string
	Parallelism          int64
	MaxPassRetries       int
	// DigestThreshold switches certificates from listing every pass hash to a digest.
	DigestThreshold int
}

type TimelineConfig struct {
	DeadlineDays   int
	WarningDays    []int
	AutoEscalation bool
}

type DSRConfig struct {
	RetryBackoff          []time.Duration
	MaxDiscoveryAttempts  int
	DiscoveryStaleAfter   time.Duration
	SchedulerTick         time.Duration
	DiscoveryConcurrency  int
	PriorityPIIConfidence float64
}

// EmailConfig selects how verification tokens reach subjects. Without an
// SMTP relay tokens stay in the in-process outbox.
type EmailConfig struct {
	SMTPAddr string
	From     string
	Username string
	Password string
	// EscalationTo receives operator pages. Empty logs escalations instead.
	EscalationTo string
}

// StorageConfig lists the file-backed storage modules searched for subject data,
// each under Root/<module>.
type StorageConfig struct {
	Root    string
	Modules []string
}

type AuditConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	RedactKeys    []string
}

// Config is the full engine configuration.
type Config struct {
	Server       Server
	Redis        RedisConfig
	Postgres     PostgresConfig
	Kafka        KafkaConfig
	Verification VerificationConfig
	Export       ExportConfig
	Deletion     DeletionConfig
	Timeline     TimelineConfig
	DSR          DSRConfig
	Audit        AuditConfig
	Email        EmailConfig
	Storage      StorageConfig
}

// DefaultConfig returns the regulatory defaults with in-memory infrastructure.
func DefaultConfig() Config {
	return Config{
		Server: Server{
			Addr:              ":8080",
			OperatorJWTKey:    "dev-secret-key-change-in-production",
			OperatorJWTIssuer: "dsrengine",
			LogLevel:          "info",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       2 * time.Minute,
			ShutdownTimeout:   10 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{
			MaxOpenConns: 20,
			MaxIdleConns: 5,
			ConnMaxIdle:  5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Topic:         "dsr-work",
			ConsumerGroup: "dsr-workers",
			Partitions:    6,
		},
		Verification: VerificationConfig{
			TokenExpiry:        15 * time.Minute,
			TokenMaxAttempts:   3,
			MaxAttemptsPerHour: 5,
			AttemptWindow:      time.Hour,
			LockoutDuration:    30 * time.Minute,
			RiskThreshold:      0.7,
			LowRiskCutoff:      0.3,
			KBAPassRatio:       0.8,
		},
		Export: ExportConfig{
			MaxSizeBytes:  100 << 20,
			RetentionDays: 7,
			ExpiryPolicy:  ExpiryFixed,
			DownloadGrace: 24 * time.Hour,
		},
		Deletion: DeletionConfig{
			Method:               DeletionMethodThreePass,
			CertificateRetention: 7 * 365 * 24 * time.Hour,
			SigningKeyID:         "dsr-signing-1",
			Parallelism:          4,
			MaxPassRetries:       3,
			DigestThreshold:      100,
		},
		Timeline: TimelineConfig{
			DeadlineDays:   30,
			WarningDays:    []int{10, 5, 2},
			AutoEscalation: true,
		},
		DSR: DSRConfig{
			RetryBackoff:          []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
			MaxDiscoveryAttempts:  3,
			DiscoveryStaleAfter:   10 * time.Minute,
			SchedulerTick:         30 * time.Second,
			DiscoveryConcurrency:  8,
			PriorityPIIConfidence: 0.9,
		},
		Email: EmailConfig{
			From: "privacy@localhost",
		},
		Audit: AuditConfig{
			BatchSize:     64,
			FlushInterval: 50 * time.Millisecond,
			RedactKeys: []string{
				"password", "token", "answers", "secret", "key", "contact", "email",
			},
		},
	}
}

// FromEnv overlays environment variables on DefaultConfig.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	var errs []error
	e := envReader{errs: &errs}

	cfg.Server.Addr = e.str("DSR_ADDR", cfg.Server.Addr)
	cfg.Server.OperatorJWTKey = e.str("DSR_OPERATOR_JWT_KEY", cfg.Server.OperatorJWTKey)
	cfg.Server.OperatorJWTIssuer = e.str("DSR_OPERATOR_JWT_ISSUER", cfg.Server.OperatorJWTIssuer)
	cfg.Server.AdminToken = e.str("DSR_ADMIN_TOKEN", cfg.Server.AdminToken)
	cfg.Server.LogLevel = e.str("DSR_LOG_LEVEL", cfg.Server.LogLevel)
	cfg.Server.ReadTimeout = e.duration("DSR_HTTP_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = e.duration("DSR_HTTP_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = e.duration("DSR_HTTP_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = e.duration("DSR_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Redis.URL = e.str("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.PoolSize = e.integer("REDIS_POOL_SIZE", cfg.Redis.PoolSize)
	cfg.Postgres.DSN = e.str("DATABASE_URL", cfg.Postgres.DSN)
	cfg.Postgres.MaxOpenConns = e.integer("DATABASE_MAX_OPEN_CONNS", cfg.Postgres.MaxOpenConns)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitTrim(brokers)
	}
	cfg.Kafka.Topic = e.str("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.ConsumerGroup = e.str("KAFKA_CONSUMER_GROUP", cfg.Kafka.ConsumerGroup)

	cfg.Verification.TokenExpiry = e.duration("VERIFICATION_TOKEN_EXPIRY", cfg.Verification.TokenExpiry)
	cfg.Verification.MaxAttemptsPerHour = e.integer("VERIFICATION_MAX_ATTEMPTS_PER_HOUR", cfg.Verification.MaxAttemptsPerHour)
	cfg.Verification.LockoutDuration = e.duration("VERIFICATION_LOCKOUT_DURATION", cfg.Verification.LockoutDuration)
	cfg.Verification.RiskThreshold = e.float("VERIFICATION_RISK_THRESHOLD", cfg.Verification.RiskThreshold)

	cfg.Export.MaxSizeBytes = int64(e.integer("EXPORT_MAX_SIZE_BYTES", int(cfg.Export.MaxSizeBytes)))
	cfg.Export.RetentionDays = e.integer("EXPORT_RETENTION_DAYS", cfg.Export.RetentionDays)
	cfg.Export.ExpiryPolicy = ExportExpiryPolicy(e.str("EXPORT_EXPIRY_POLICY", string(cfg.Export.ExpiryPolicy)))
	cfg.Export.DownloadGrace = e.duration("EXPORT_DOWNLOAD_GRACE", cfg.Export.DownloadGrace)
	cfg.Export.BlobDir = e.str("EXPORT_BLOB_DIR", cfg.Export.BlobDir)

	cfg.Deletion.Method = e.str("DELETION_METHOD", cfg.Deletion.Method)
	cfg.Deletion.CertificateRetention = e.duration("CERTIFICATE_RETENTION", cfg.Deletion.CertificateRetention)
	cfg.Deletion.SigningKeyPath = e.str("DELETION_SIGNING_KEY_PATH", cfg.Deletion.SigningKeyPath)
	cfg.Deletion.SigningKeyID = e.str("DELETION_SIGNING_KEY_ID", cfg.Deletion.SigningKeyID)

	cfg.Timeline.DeadlineDays = e.integer("GDPR_DEADLINE_DAYS", cfg.Timeline.DeadlineDays)
	if raw := os.Getenv("TIMELINE_WARNING_DAYS"); raw != "" {
		days, err := parseIntList(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("TIMELINE_WARNING_DAYS: %w", err))
		} else {
			cfg.Timeline.WarningDays = days
		}
	}
	cfg.Timeline.AutoEscalation = e.boolean("AUTO_ESCALATION", cfg.Timeline.AutoEscalation)

	cfg.DSR.SchedulerTick = e.duration("DSR_SCHEDULER_TICK", cfg.DSR.SchedulerTick)
	if raw := os.Getenv("DSR_RETRY_BACKOFF"); raw != "" {
		var backoff []time.Duration
		for _, part := range splitTrim(raw) {
			d, err := time.ParseDuration(part)
			if err != nil {
				errs = append(errs, fmt.Errorf("DSR_RETRY_BACKOFF: %w", err))
				break
			}
			backoff = append(backoff, d)
		}
		if len(backoff) > 0 {
			cfg.DSR.RetryBackoff = backoff
		}
	}
	cfg.Email.SMTPAddr = e.str("SMTP_ADDR", cfg.Email.SMTPAddr)
	cfg.Email.From = e.str("SMTP_FROM", cfg.Email.From)
	cfg.Email.Username = e.str("SMTP_USERNAME", cfg.Email.Username)
	cfg.Email.Password = e.str("SMTP_PASSWORD", cfg.Email.Password)
	cfg.Email.EscalationTo = e.str("ESCALATION_EMAIL", cfg.Email.EscalationTo)

	cfg.Storage.Root = e.str("STORAGE_ROOT", cfg.Storage.Root)
	if raw := os.Getenv("STORAGE_MODULES"); raw != "" {
		cfg.Storage.Modules = splitTrim(raw)
	}

	if raw := os.Getenv("AUDIT_REDACT_KEYS"); raw != "" {
		cfg.Audit.RedactKeys = pkgstrings.SplitList(raw)
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot honour.
func (c Config) Validate() error {
	var errs []error
	if c.Deletion.Method != DeletionMethodThreePass {
		errs = append(errs, fmt.Errorf("deletion method %q is not supported", c.Deletion.Method))
	}
	if c.Export.ExpiryPolicy != ExpiryFixed && c.Export.ExpiryPolicy != ExpiryFirstDownload {
		errs = append(errs, fmt.Errorf("export expiry policy %q is not supported", c.Export.ExpiryPolicy))
	}
	if c.Verification.RiskThreshold <= 0 || c.Verification.RiskThreshold > 1 {
		errs = append(errs, errors.New("risk threshold must be in (0, 1]"))
	}
	if c.Verification.MaxAttemptsPerHour <= 0 {
		errs = append(errs, errors.New("verification max attempts per hour must be positive"))
	}
	if c.Timeline.DeadlineDays <= 0 {
		errs = append(errs, errors.New("deadline days must be positive"))
	}
	if c.Export.RetentionDays <= 0 {
		errs = append(errs, errors.New("export retention days must be positive"))
	}
	if c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server write and shutdown timeouts must be positive"))
	}
	if len(c.Storage.Modules) > 0 && c.Storage.Root == "" {
		errs = append(errs, errors.New("storage modules need a storage root"))
	}
	for _, d := range c.Timeline.WarningDays {
		if d <= 0 || d >= c.Timeline.DeadlineDays {
			errs = append(errs, fmt.Errorf("warning day %d outside deadline window", d))
		}
	}
	return errors.Join(errs...)
}

// Retention is the fixed export lifetime.
func (c ExportConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Deadline is the legal response window.
func (c TimelineConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineDays) * 24 * time.Hour
}

type envReader struct {
	errs *[]error
}

func (e envReader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (e envReader) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e envReader) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (e envReader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e envReader) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func splitTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntList(raw string) ([]int, error) {
	var out []int
	for _, part := range splitTrim(raw) {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
