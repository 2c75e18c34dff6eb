package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg := LoadServerConfig()

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, int64(DefaultMaxRequestSize), cfg.MaxRequestSize)
	require.NoError(t, cfg.Validate())
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("TRACELAKE_PORT", "9090")
	t.Setenv("TRACELAKE_HOST", "127.0.0.1")
	t.Setenv("TRACELAKE_READ_TIMEOUT", "5s")
	t.Setenv("TRACELAKE_MAX_REQUEST_SIZE", "1024")
	t.Setenv("TRACELAKE_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := LoadServerConfig()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, int64(1024), cfg.MaxRequestSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestServerConfigValidate(t *testing.T) {
	valid := LoadServerConfig()

	cases := []struct {
		name    string
		mutate  func(c *ServerConfig)
		wantErr error
	}{
		{"invalid port", func(c *ServerConfig) { c.Port = 0 }, ErrInvalidPort},
		{"empty host", func(c *ServerConfig) { c.Host = "" }, ErrEmptyHost},
		{"zero read timeout", func(c *ServerConfig) { c.ReadTimeout = 0 }, ErrInvalidReadTimeout},
		{"zero write timeout", func(c *ServerConfig) { c.WriteTimeout = 0 }, ErrInvalidWriteTimeout},
		{"zero shutdown timeout", func(c *ServerConfig) { c.ShutdownTimeout = 0 }, ErrInvalidShutdownTimeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), tc.wantErr)
		})
	}
}

func TestServerConfigAddress(t *testing.T) {
	cfg := ServerConfig{Host: "0.0.0.0", Port: 8080}
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}
