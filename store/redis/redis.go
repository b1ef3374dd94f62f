// Package redis provides a Redis-backed session store.
//
// Values are JSON-serialized and organized under a configurable key prefix
// as prefix:sessionID:key, with an optional TTL for automatic expiration.
// Suitable for production deployments where planning context is shared
// across processes.
package redis

import (
	"context"
	stderrors "errors"

	"github.com/redis/go-redis/v9"

	agentErrors "github.com/kart-io/agentflow/errors"
	"github.com/kart-io/agentflow/utils/json"
)

// Store is a Redis-backed session store.
type Store struct {
	client redis.UniversalClient
	config *Config
}

// New connects to addr and returns a store. The connection is verified with
// a ping before the store is handed out.
func New(addr string, opts ...Option) (*Store, error) {
	config := DefaultConfig()
	config.Addr = addr
	for _, opt := range opts {
		opt(config)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, agentErrors.Wrap(err, agentErrors.CodeStoreConnection, "redis connection failed").
			WithComponent("redis_store").
			WithOperation("new").
			WithContext("addr", config.Addr)
	}
	return &Store{client: client, config: config}, nil
}

// NewFromClient wraps an existing client. Used by tests and hosts that
// manage their own connection pool.
func NewFromClient(client redis.UniversalClient, opts ...Option) *Store {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	return &Store{client: client, config: config}
}

// Get returns the value stored under (sessionID, key).
func (s *Store) Get(ctx context.Context, sessionID, key string) (interface{}, bool, error) {
	data, err := s.client.Get(ctx, s.key(sessionID, key)).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, agentErrors.Wrap(err, agentErrors.CodeStoreConnection, "redis get failed").
			WithComponent("redis_store").
			WithOperation("get").
			WithContext("session_id", sessionID).
			WithContext("key", key)
	}

	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, agentErrors.Wrap(err, agentErrors.CodeStoreSerialization, "stored value is not valid JSON").
			WithComponent("redis_store").
			WithOperation("get").
			WithContext("session_id", sessionID).
			WithContext("key", key)
	}
	return value, true, nil
}

// Set stores value under (sessionID, key), applying the configured TTL.
func (s *Store) Set(ctx context.Context, sessionID, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return agentErrors.Wrap(err, agentErrors.CodeStoreSerialization, "value serialization failed").
			WithComponent("redis_store").
			WithOperation("set").
			WithContext("session_id", sessionID).
			WithContext("key", key)
	}

	if err := s.client.Set(ctx, s.key(sessionID, key), data, s.config.TTL).Err(); err != nil {
		return agentErrors.Wrap(err, agentErrors.CodeStoreConnection, "redis set failed").
			WithComponent("redis_store").
			WithOperation("set").
			WithContext("session_id", sessionID).
			WithContext("key", key)
	}
	return nil
}

// Delete removes (sessionID, key). Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, sessionID, key string) error {
	if err := s.client.Del(ctx, s.key(sessionID, key)).Err(); err != nil {
		return agentErrors.Wrap(err, agentErrors.CodeStoreConnection, "redis delete failed").
			WithComponent("redis_store").
			WithOperation("delete").
			WithContext("session_id", sessionID).
			WithContext("key", key)
	}
	return nil
}

// DeleteSession removes every key belonging to the session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	pattern := s.config.Prefix + ":" + sessionID + ":*"
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return agentErrors.Wrap(err, agentErrors.CodeStoreConnection, "redis delete failed").
				WithComponent("redis_store").
				WithOperation("delete_session").
				WithContext("session_id", sessionID)
		}
	}
	if err := iter.Err(); err != nil {
		return agentErrors.Wrap(err, agentErrors.CodeStoreConnection, "redis scan failed").
			WithComponent("redis_store").
			WithOperation("delete_session").
			WithContext("session_id", sessionID)
	}
	return nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return agentErrors.Wrap(err, agentErrors.CodeStoreConnection, "redis ping failed").
			WithComponent("redis_store").
			WithOperation("ping")
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(sessionID, key string) string {
	return s.config.Prefix + ":" + sessionID + ":" + key
}
