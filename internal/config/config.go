package config

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	MySQL  MySQLConfig
	Redis  RedisConfig
	JWT    JWTConfig
	Collab CollabConfig
}

var (
	configInstance *Config
	once           sync.Once
)

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type MySQLConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type RedisConfig struct {
	Host         string
	Port         string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

type JWTConfig struct {
	Secret string
}

// CollabConfig holds the knobs of the realtime collaboration engine.
type CollabConfig struct {
	// PresenceTTL bounds how long a presence entry survives without an
	// explicit leave. Stale entries from crashed instances expire on their own.
	PresenceTTL time.Duration

	// CursorThrottle is the minimum interval between forwarded cursor events
	// per connection. Faster events are dropped, not queued.
	CursorThrottle time.Duration

	// StoreTimeout bounds every presence-store and event-bus round-trip so a
	// downstream outage can never hang the hub loop.
	StoreTimeout time.Duration
}

func LoadConfig() (*Config, error) {
	once.Do(func() {
		viper.SetDefault("COLLAB_HOST", "")
		viper.SetDefault("COLLAB_PORT", "8080")
		viper.SetDefault("COLLAB_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("COLLAB_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("COLLAB_IDLE_TIMEOUT", 60*time.Second)
		viper.SetDefault("COLLAB_JWT_SECRET", "secret")
		viper.SetDefault("COLLAB_PRESENCE_TTL", 24*time.Hour)
		viper.SetDefault("COLLAB_CURSOR_THROTTLE", 50*time.Millisecond)
		viper.SetDefault("COLLAB_STORE_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_HOST", "127.0.0.1")
		viper.SetDefault("REDIS_PORT", "6379")
		viper.SetDefault("REDIS_PASSWORD", "")
		viper.SetDefault("REDIS_DB", 0)
		viper.SetDefault("REDIS_MAX_RETRIES", 3)
		viper.SetDefault("REDIS_POOL_SIZE", 100)
		viper.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
		viper.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
		viper.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
		viper.SetDefault("MYSQL_USER", "root")
		viper.SetDefault("MYSQL_PASSWORD", "password")
		viper.SetDefault("MYSQL_HOST", "localhost")
		viper.SetDefault("MYSQL_PORT", "3306")
		viper.SetDefault("MYSQL_DB", "collab")
		viper.AutomaticEnv()

		configInstance = &Config{
			Server: ServerConfig{
				Host:         viper.GetString("COLLAB_HOST"),
				Port:         viper.GetString("COLLAB_PORT"),
				ReadTimeout:  viper.GetDuration("COLLAB_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("COLLAB_WRITE_TIMEOUT"),
				IdleTimeout:  viper.GetDuration("COLLAB_IDLE_TIMEOUT"),
			},
			MySQL: MySQLConfig{
				Host:     viper.GetString("MYSQL_HOST"),
				Port:     viper.GetString("MYSQL_PORT"),
				User:     viper.GetString("MYSQL_USER"),
				Password: viper.GetString("MYSQL_PASSWORD"),
				DBName:   viper.GetString("MYSQL_DB"),
			},
			Redis: RedisConfig{
				Host:         viper.GetString("REDIS_HOST"),
				Port:         viper.GetString("REDIS_PORT"),
				Password:     viper.GetString("REDIS_PASSWORD"),
				DB:           viper.GetInt("REDIS_DB"),
				MaxRetries:   viper.GetInt("REDIS_MAX_RETRIES"),
				DialTimeout:  viper.GetDuration("REDIS_DIAL_TIMEOUT"),
				ReadTimeout:  viper.GetDuration("REDIS_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("REDIS_WRITE_TIMEOUT"),
				PoolSize:     viper.GetInt("REDIS_POOL_SIZE"),
				MinIdleConns: viper.GetInt("REDIS_MIN_IDLE_CONNS"),
			},
			JWT: JWTConfig{
				Secret: viper.GetString("COLLAB_JWT_SECRET"),
			},
			Collab: CollabConfig{
				PresenceTTL:    viper.GetDuration("COLLAB_PRESENCE_TTL"),
				CursorThrottle: viper.GetDuration("COLLAB_CURSOR_THROTTLE"),
				StoreTimeout:   viper.GetDuration("COLLAB_STORE_TIMEOUT"),
			},
		}
	})

	return configInstance, nil
}
