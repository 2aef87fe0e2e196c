package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	req := require.New(t)

	cfg, err := Load(nil)
	req.NoError(err)

	req.Equal(":8000", cfg.Addr)
	req.Equal("./data", cfg.DataDir)
	req.Equal(24*time.Hour, cfg.TokenTTL)
	req.Equal(4096, cfg.MaxConnections)
	req.Equal(256, cfg.SendBuffer)
	req.Equal("info", cfg.LogLevel)
	req.Equal("json", cfg.LogFormat)
	req.Empty(cfg.NATSUrl)
}

func TestLoadFromEnvironment(t *testing.T) {
	req := require.New(t)

	t.Setenv("ADDR", ":9100")
	t.Setenv("MAX_CONNECTIONS", "128")
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("LOG_FORMAT", "pretty")

	cfg, err := Load(nil)
	req.NoError(err)
	req.Equal(":9100", cfg.Addr)
	req.Equal(128, cfg.MaxConnections)
	req.Equal(time.Hour, cfg.TokenTTL)
	req.Equal("pretty", cfg.LogFormat)
}

func TestValidateRejectsBadValues(t *testing.T) {
	req := require.New(t)

	base := func() *Config {
		cfg, err := Load(nil)
		req.NoError(err)
		return cfg
	}

	cfg := base()
	cfg.MaxConnections = 0
	req.Error(cfg.Validate())

	cfg = base()
	cfg.TokenTTL = -time.Minute
	req.Error(cfg.Validate())

	cfg = base()
	cfg.LogLevel = "verbose"
	req.Error(cfg.Validate())

	cfg = base()
	cfg.JWTSecret = ""
	req.Error(cfg.Validate())
}
