package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Auth   AuthConfig   `mapstructure:"auth"`
	Room   RoomConfig   `mapstructure:"room"`
	Store  StoreConfig  `mapstructure:"store"`
	RTC    RTCConfig    `mapstructure:"rtc"`
	Signal SignalConfig `mapstructure:"signal"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	Issuer      string `mapstructure:"issuer"`
	AllowGuests bool   `mapstructure:"allow_guests"`
}

type RoomConfig struct {
	CleanupDelay           time.Duration `mapstructure:"cleanup_delay"`
	DefaultMaxParticipants int           `mapstructure:"default_max_participants"`
	MaxParticipants        int           `mapstructure:"max_participants"`
	// CreateRate is rooms per minute per identity.
	CreateRate  float64 `mapstructure:"create_rate"`
	CreateBurst int     `mapstructure:"create_burst"`
}

type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

type RTCConfig struct {
	UDPPort    int      `mapstructure:"udp_port"`
	ICEServers []string `mapstructure:"ice_servers"`
}

type SignalConfig struct {
	SendBuffer          int           `mapstructure:"send_buffer"`
	BackpressureStrikes int           `mapstructure:"backpressure_strikes"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
}

const (
	StoreNone     = "none"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.allow_guests", true)

	v.SetDefault("room.cleanup_delay", "5s")
	v.SetDefault("room.default_max_participants", 25)
	v.SetDefault("room.max_participants", 100)
	v.SetDefault("room.create_rate", 6)
	v.SetDefault("room.create_burst", 3)

	v.SetDefault("store.driver", StoreNone)
	v.SetDefault("store.timeout", "3s")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key_prefix", "huddle:room:")
	v.SetDefault("store.redis.ttl", "168h")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 5)
	v.SetDefault("store.postgres.max_idle", 2)

	v.SetDefault("rtc.udp_port", 0)
	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("signal.send_buffer", 64)
	v.SetDefault("signal.backpressure_strikes", 8)
	v.SetDefault("signal.request_timeout", "15s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (or CONFIG_FILE when set) on
// top of the defaults; HUDDLE_* variables override both, e.g.
// HUDDLE_STORE_REDIS_ADDR for store.redis.addr.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := os.Getenv("CONFIG_FILE")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("huddle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Store.Driver {
	case StoreNone, StoreRedis:
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Auth.JWTSecret == "" && !c.Auth.AllowGuests {
		return fmt.Errorf("auth.jwt_secret is required when guests are not allowed")
	}
	if c.Room.MaxParticipants < 2 {
		return fmt.Errorf("room.max_participants must be at least 2")
	}
	if c.RTC.UDPPort < 0 || c.RTC.UDPPort > 65535 {
		return fmt.Errorf("invalid rtc.udp_port %d", c.RTC.UDPPort)
	}
	return nil
}
