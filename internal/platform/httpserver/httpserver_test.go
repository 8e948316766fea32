package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsrengine/internal/platform/config"
)

func TestNew(t *testing.T) {
	cfg := config.DefaultConfig().Server
	cfg.Addr = "127.0.0.1:0"
	cfg.WriteTimeout = 15 * time.Minute

	srv := New(cfg, http.NotFoundHandler())
	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.Equal(t, 15*time.Minute, srv.WriteTimeout)
	assert.Equal(t, cfg.IdleTimeout, srv.IdleTimeout)
	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
}

func TestShutdownBeforeServe(t *testing.T) {
	srv := New(config.DefaultConfig().Server, http.NotFoundHandler())
	require.NoError(t, Shutdown(srv, time.Second))
	assert.ErrorIs(t, srv.ListenAndServe(), http.ErrServerClosed)
}
