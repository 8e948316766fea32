package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 15*time.Minute, cfg.Verification.TokenExpiry)
	assert.Equal(t, 5, cfg.Verification.MaxAttemptsPerHour)
	assert.Equal(t, 30*time.Minute, cfg.Verification.LockoutDuration)
	assert.Equal(t, 7*24*time.Hour, cfg.Export.Retention())
	assert.Equal(t, 30*24*time.Hour, cfg.Timeline.Deadline())
	assert.Equal(t, []int{10, 5, 2}, cfg.Timeline.WarningDays)
	assert.Equal(t, []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}, cfg.DSR.RetryBackoff)
	assert.Equal(t, 5*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
}

func TestFromEnv(t *testing.T) {
	t.Run("overlays environment values", func(t *testing.T) {
		t.Setenv("GDPR_DEADLINE_DAYS", "45")
		t.Setenv("TIMELINE_WARNING_DAYS", "14, 7")
		t.Setenv("EXPORT_EXPIRY_POLICY", "first_download")
		t.Setenv("DSR_RETRY_BACKOFF", "30s,2m")
		t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
		t.Setenv("AUTO_ESCALATION", "false")
		t.Setenv("STORAGE_ROOT", "/var/lib/dsr")
		t.Setenv("STORAGE_MODULES", "profile, orders")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, 45, cfg.Timeline.DeadlineDays)
		assert.Equal(t, []int{14, 7}, cfg.Timeline.WarningDays)
		assert.Equal(t, ExpiryFirstDownload, cfg.Export.ExpiryPolicy)
		assert.Equal(t, []time.Duration{30 * time.Second, 2 * time.Minute}, cfg.DSR.RetryBackoff)
		assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
		assert.False(t, cfg.Timeline.AutoEscalation)
		assert.Equal(t, []string{"profile", "orders"}, cfg.Storage.Modules)
	})

	t.Run("storage modules need a root", func(t *testing.T) {
		t.Setenv("STORAGE_MODULES", "profile")

		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage root")
	})

	t.Run("malformed values are reported", func(t *testing.T) {
		t.Setenv("VERIFICATION_TOKEN_EXPIRY", "soon")
		t.Setenv("EXPORT_RETENTION_DAYS", "seven")

		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "VERIFICATION_TOKEN_EXPIRY")
		assert.Contains(t, err.Error(), "EXPORT_RETENTION_DAYS")
	})

	t.Run("only the three-pass method is accepted", func(t *testing.T) {
		t.Setenv("DELETION_METHOD", "single_pass")

		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not supported")
	})

	t.Run("server timeouts", func(t *testing.T) {
		t.Setenv("DSR_HTTP_WRITE_TIMEOUT", "15m")
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, 15*time.Minute, cfg.Server.WriteTimeout)

		t.Setenv("DSR_SHUTDOWN_TIMEOUT", "0s")
		_, err = FromEnv()
		require.Error(t, err)
	})

	t.Run("warning days must fall inside the deadline", func(t *testing.T) {
		t.Setenv("TIMELINE_WARNING_DAYS", "40")

		_, err := FromEnv()
		require.Error(t, err)
	})
}
