package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.Room.CleanupDelay)
	assert.Equal(t, 100, cfg.Room.MaxParticipants)
	assert.Equal(t, StoreNone, cfg.Store.Driver)
	assert.Equal(t, "huddle:room:", cfg.Store.Redis.KeyPrefix)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.True(t, cfg.Auth.AllowGuests)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.RTC.ICEServers)
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, `
mode: debug
port: 9000
room:
  cleanup_delay: 2s
  max_participants: 12
store:
  driver: redis
  redis:
    addr: redis:6379
rtc:
  udp_port: 50000
`))
	t.Setenv("HUDDLE_PORT", "9100")
	t.Setenv("HUDDLE_STORE_REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.Room.CleanupDelay)
	assert.Equal(t, 12, cfg.Room.MaxParticipants)
	assert.Equal(t, StoreRedis, cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 3, cfg.Store.Redis.DB)
	assert.Equal(t, 50000, cfg.RTC.UDPPort)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Port:  8080,
			Auth:  AuthConfig{AllowGuests: true},
			Room:  RoomConfig{MaxParticipants: 10},
			Store: StoreConfig{Driver: StoreNone},
		}
	}
	ok := base()
	require.NoError(t, ok.Validate())

	cases := map[string]func(*Config){
		"bad port":           func(c *Config) { c.Port = 0 },
		"unknown driver":     func(c *Config) { c.Store.Driver = "mongo" },
		"postgres needs dsn": func(c *Config) { c.Store.Driver = StorePostgres },
		"no auth at all":     func(c *Config) { c.Auth.AllowGuests = false },
		"room too small":     func(c *Config) { c.Room.MaxParticipants = 1 },
		"bad udp port":       func(c *Config) { c.RTC.UDPPort = 70000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
