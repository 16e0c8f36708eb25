package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeTempYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeTempYAML(t, `
env: dev
http_server:
  address: ":8080"
auth:
  secret: "`+testSecret+`"
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTPServer.Address)
	assert.Equal(t, 10*time.Second, cfg.HTTPServer.ReadTimeout)
	assert.Equal(t, DriverPostgres, cfg.DB.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 21*24*time.Hour, cfg.Auth.RefreshTokenTTL)
	assert.Equal(t, "access_token", cfg.Auth.AccessCookieName)
	assert.Equal(t, "refresh_token", cfg.Auth.RefreshCookieName)
	assert.Equal(t, "X-CSRF-TOKEN", cfg.Auth.CSRFHeader)
	assert.Equal(t, "/api/", cfg.Auth.APIPrefix)
	assert.False(t, cfg.Auth.InsecureCookies)
	assert.False(t, cfg.Auth.AllowBearerHeader)
	assert.Equal(t, 24*time.Hour, cfg.Sweep.Interval)
	assert.Equal(t, 1.0, cfg.RateLimit.LoginPerSecond)
	assert.Empty(t, cfg.RateLimit.TrustedProxies)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeTempYAML(t, `
http_server:
  address: ":8080"
auth:
  secret: "`+testSecret+`"
  access_token_ttl: 1h
`)
	t.Setenv("AUTH_ACCESS_TOKEN_TTL", "15m")
	t.Setenv("DB_DRIVER", DriverInmem)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, DriverInmem, cfg.DB.Driver)
}

func TestLoadConfig_ShortSecret(t *testing.T) {
	path := writeTempYAML(t, `
http_server:
  address: ":8080"
auth:
  secret: "short"
`)

	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.secret")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DB:        DB{Driver: DriverPostgres, DbURL: "postgres://x"},
			Auth:      Auth{Secret: testSecret, AccessTokenTTL: time.Hour, RefreshTokenTTL: 2 * time.Hour, APIPrefix: "/api/"},
			Sweep:     Sweep{Interval: time.Hour},
			RateLimit: RateLimit{LoginPerSecond: 1, LoginBurst: 5, Clients: 100},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.DB.Driver = "mysql" }, wantErr: "unknown db.driver"},
		{name: "refresh shorter than access", mutate: func(c *Config) { c.Auth.RefreshTokenTTL = time.Minute }, wantErr: "refresh_token_ttl"},
		{name: "api prefix", mutate: func(c *Config) { c.Auth.APIPrefix = "api" }, wantErr: "api_prefix"},
		{name: "sweep interval", mutate: func(c *Config) { c.Sweep.Interval = 0 }, wantErr: "sweep.interval"},
		{name: "inmem needs no url", mutate: func(c *Config) { c.DB = DB{Driver: DriverInmem} }},
		{name: "zero login rate", mutate: func(c *Config) { c.RateLimit.LoginPerSecond = 0 }, wantErr: "login_per_second"},
		{name: "zero login burst", mutate: func(c *Config) { c.RateLimit.LoginBurst = 0 }, wantErr: "login_burst"},
		{name: "trusted proxies", mutate: func(c *Config) { c.RateLimit.TrustedProxies = []string{"10.0.0.1", "172.16.0.0/12"} }},
		{name: "bad trusted proxy", mutate: func(c *Config) { c.RateLimit.TrustedProxies = []string{"proxy.local"} }, wantErr: "trusted_proxies"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMustLoadConfig_MissingFilePanics(t *testing.T) {
	assert.Panics(t, func() { MustLoadConfig(filepath.Join(t.TempDir(), "nope.yaml")) })
}
