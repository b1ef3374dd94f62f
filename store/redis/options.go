package redis

import "time"

// Config holds the Redis connection and key-layout settings.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Prefix       string
	TTL          time.Duration
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:         "localhost:6379",
		Prefix:       "agentflow:session",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Option configures the store.
type Option func(*Config)

// WithPassword sets the Redis password.
func WithPassword(password string) Option {
	return func(cfg *Config) { cfg.Password = password }
}

// WithDB selects the Redis database index.
func WithDB(db int) Option {
	return func(cfg *Config) {
		if db >= 0 {
			cfg.DB = db
		}
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(cfg *Config) {
		if prefix != "" {
			cfg.Prefix = prefix
		}
	}
}

// WithTTL sets the expiration applied to every Set.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *Config) {
		if ttl >= 0 {
			cfg.TTL = ttl
		}
	}
}

// WithPoolSize sets the connection pool size.
func WithPoolSize(size int) Option {
	return func(cfg *Config) {
		if size > 0 {
			cfg.PoolSize = size
		}
	}
}

// WithMinIdleConns sets the minimum idle connections.
func WithMinIdleConns(n int) Option {
	return func(cfg *Config) {
		if n >= 0 {
			cfg.MinIdleConns = n
		}
	}
}

// WithMaxRetries sets the command retry budget.
func WithMaxRetries(n int) Option {
	return func(cfg *Config) {
		if n >= 0 {
			cfg.MaxRetries = n
		}
	}
}
