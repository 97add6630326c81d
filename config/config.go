// Package config reads board-sync settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Debug   bool `env:"DEBUG" env-default:"false" env-description:"enable debug logging"`
	Server  ServerConfig
	Redis   RedisConfig
	Storage StorageConfig
	Auth    AuthConfig
	Session SessionConfig
}

type ServerConfig struct {
	Port      string        `env:"STREAM_SERVICE_PORT" env-default:"9000" env-description:"relay listen port"`
	KeepAlive time.Duration `env:"KEEP_ALIVE_INTERVAL" env-default:"30s" env-description:"ping interval on open streams"`
	Channel   string        `env:"RELAY_CHANNEL" env-default:"task-events" env-description:"redis pub/sub channel shared by relay instances"`
	Buffer    int           `env:"RELAY_BUFFER" env-default:"64" env-description:"frames queued per subscriber"`
}

type RedisConfig struct {
	ConnectionString string        `env:"REDIS_CONNECTION_STRING" env-description:"redis URL or host,password=..,ssl=true"`
	DeduperTTL       time.Duration `env:"DEDUPER_TTL" env-default:"24h" env-description:"how long published event ids are remembered"`
	BoardCacheTTL    time.Duration `env:"BOARD_CACHE_TTL" env-default:"5m" env-description:"lifetime of cached boards"`
}

type StorageConfig struct {
	ConnectionString string `env:"STORAGE_CONNECTION_STRING" env-description:"azure tables connection string"`
	TasksTable       string `env:"TASKS_TABLE" env-default:"tasks"`
	ColumnsTable     string `env:"COLUMNS_TABLE" env-default:"columns"`
}

type AuthConfig struct {
	Audience   string `env:"AUTH0_AUDIENCE"`
	Domain     string `env:"AUTH0_DOMAIN"`
	TestMode   bool   `env:"AUTH0_TEST_MODE" env-default:"false"`
	TestSecret string `env:"TEST_JWT_SECRET"`
}

type SessionConfig struct {
	LockTimeout time.Duration `env:"LOCK_TIMEOUT" env-default:"30s" env-description:"edit lock lifetime"`
	CacheTTL    time.Duration `env:"CACHE_TTL" env-default:"1m" env-description:"task read cache lifetime"`
}

var ErrIncompleteAuth = errors.New("missing Auth0 config")

// Enabled reports whether publish and subscribe require a bearer token.
func (a AuthConfig) Enabled() bool {
	return a.TestMode || a.Domain != "" || a.Audience != ""
}

// Validate checks combinations cleanenv tags cannot express.
func (c *Config) Validate() error {
	if c.Auth.TestMode {
		if c.Auth.TestSecret == "" {
			return errors.New("AUTH0_TEST_MODE requires TEST_JWT_SECRET")
		}
		return nil
	}
	if (c.Auth.Domain == "") != (c.Auth.Audience == "") {
		return ErrIncompleteAuth
	}
	return nil
}

// JWKSURL is the key set location of the configured Auth0 tenant.
func (a AuthConfig) JWKSURL() string {
	return "https://" + a.Domain + "/.well-known/jwks.json"
}

// Issuer is the expected iss claim of the configured Auth0 tenant.
func (a AuthConfig) Issuer() string {
	return "https://" + a.Domain + "/"
}

// RedisOptions parses a redis:// URL or an Azure style
// "host:port,password=...,ssl=true" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.Contains(parts[0], "://") || strings.TrimSpace(parts[0]) == "" {
		return nil, err
	}
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
