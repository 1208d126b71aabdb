// Package config loads service and CLI settings from the environment, with an
// optional .env file applied first.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"study-mate/validation"
)

// StorageConfig names the Azure storage account resources.
type StorageConfig struct {
	ConnectionString string `mapstructure:"STORAGE_CONNECTION_STRING" validate:"required"`
	TasksTable       string `mapstructure:"TASKS_TABLE" validate:"required"`
	SessionsTable    string `mapstructure:"SESSIONS_TABLE" validate:"required"`
	SettingsTable    string `mapstructure:"SETTINGS_TABLE" validate:"required"`
	SessionQueue     string `mapstructure:"SESSION_QUEUE" validate:"required"`
}

// RedisConfig configures the cache, deduper and updates channel.
type RedisConfig struct {
	ConnectionString string        `mapstructure:"REDIS_CONNECTION_STRING" validate:"required"`
	UpdatesChannel   string        `mapstructure:"UPDATES_CHANNEL" validate:"required"`
	CacheTTL         time.Duration `mapstructure:"CACHE_TTL" validate:"gte=0"`
	DeduperTTL       time.Duration `mapstructure:"DEDUPER_TTL" validate:"gt=0"`
}

// AuthConfig selects Auth0 (RS256 via JWKS) or a local HS256 shared secret.
type AuthConfig struct {
	Domain       string        `mapstructure:"AUTH0_DOMAIN" validate:"required_without=LocalMode"`
	Audience     string        `mapstructure:"AUTH0_AUDIENCE" validate:"required_without=LocalMode"`
	LocalMode    string        `mapstructure:"LOCAL_AUTH_MODE" validate:"omitempty,oneof=hs256"`
	SharedSecret string        `mapstructure:"LOCAL_AUTH_SHARED_SECRET" validate:"required_if=LocalMode hs256"`
	JWKSCacheTTL time.Duration `mapstructure:"JWKS_CACHE_TTL" validate:"gt=0"`
}

// Local reports whether tokens are verified with the shared secret.
func (a AuthConfig) Local() bool { return a.LocalMode != "" }

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port string `mapstructure:"PORT" validate:"required,numeric"`
}

// EnqueueConfig sizes the session write worker pool.
type EnqueueConfig struct {
	Workers        int           `mapstructure:"ENQUEUE_WORKERS" validate:"gte=1"`
	Buffer         int           `mapstructure:"ENQUEUE_BUFFER" validate:"gte=1"`
	Timeout        time.Duration `mapstructure:"ENQUEUE_TIMEOUT" validate:"gt=0"`
	HandoffTimeout time.Duration `mapstructure:"ENQUEUE_HANDOFF_TIMEOUT" validate:"gte=0"`
}

// ClientConfig is used by studyctl.
type ClientConfig struct {
	APIURL string `mapstructure:"STUDY_API_URL" validate:"required,url"`
	Token  string `mapstructure:"STUDY_TOKEN"`
}

// Config is the full set of settings. Each binary validates only the
// sections it uses, see Require.
type Config struct {
	Debug   bool
	Storage StorageConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Server  ServerConfig
	Enqueue EnqueueConfig
	Client  ClientConfig
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", false)
	v.SetDefault("tasks_table", "tasks")
	v.SetDefault("sessions_table", "sessions")
	v.SetDefault("settings_table", "settings")
	v.SetDefault("session_queue", "session-commands")
	v.SetDefault("updates_channel", "study-updates")
	v.SetDefault("cache_ttl", 10*time.Minute)
	v.SetDefault("deduper_ttl", 24*time.Hour)
	v.SetDefault("jwks_cache_ttl", 15*time.Minute)
	v.SetDefault("port", "8080")
	v.SetDefault("enqueue_workers", 32)
	v.SetDefault("enqueue_buffer", 4096)
	v.SetDefault("enqueue_timeout", 60*time.Second)
	v.SetDefault("enqueue_handoff_timeout", 15*time.Millisecond)
	v.SetDefault("study_api_url", "http://localhost:8080")
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. Values from envFile (".env" when empty) are
// exported first without overriding variables that are already set; a missing
// file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: stat %s: %w", envFile, err)
	}

	v := newViper()
	cfg := &Config{
		Debug: v.GetBool("debug"),
		Storage: StorageConfig{
			ConnectionString: v.GetString("storage_connection_string"),
			TasksTable:       v.GetString("tasks_table"),
			SessionsTable:    v.GetString("sessions_table"),
			SettingsTable:    v.GetString("settings_table"),
			SessionQueue:     v.GetString("session_queue"),
		},
		Redis: RedisConfig{
			ConnectionString: v.GetString("redis_connection_string"),
			UpdatesChannel:   v.GetString("updates_channel"),
			CacheTTL:         v.GetDuration("cache_ttl"),
			DeduperTTL:       v.GetDuration("deduper_ttl"),
		},
		Auth: AuthConfig{
			Domain:       v.GetString("auth0_domain"),
			Audience:     v.GetString("auth0_audience"),
			LocalMode:    strings.ToLower(v.GetString("local_auth_mode")),
			SharedSecret: v.GetString("local_auth_shared_secret"),
			JWKSCacheTTL: v.GetDuration("jwks_cache_ttl"),
		},
		Server: ServerConfig{Port: v.GetString("port")},
		Enqueue: EnqueueConfig{
			Workers:        v.GetInt("enqueue_workers"),
			Buffer:         v.GetInt("enqueue_buffer"),
			Timeout:        v.GetDuration("enqueue_timeout"),
			HandoffTimeout: v.GetDuration("enqueue_handoff_timeout"),
		},
		Client: ClientConfig{
			APIURL: v.GetString("study_api_url"),
			Token:  v.GetString("study_token"),
		},
	}
	return cfg, nil
}

// Require validates the given sections, e.g. cfg.Require(cfg.Storage, cfg.Redis).
func (c *Config) Require(sections ...any) error {
	for _, s := range sections {
		if err := validation.Struct(s); err != nil {
			return fmt.Errorf("config: %s", validation.Message(err))
		}
	}
	return nil
}

// ApplyLogLevel sets the standard logrus logger to debug when DEBUG is true.
func (c *Config) ApplyLogLevel() {
	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}
}

// RedisOptions accepts either a redis:// URL or an Azure style connection
// string "host:port,password=...,ssl=True".
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("config: empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
