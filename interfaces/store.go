package interfaces

import "context"

// SessionStore provides enrichment context for planning strategies. The core
// reads and writes opaque values keyed by session; it does not impose a
// schema.
//
// Implementations:
//   - store/memory - in-process map, suitable for tests and single binaries
//   - store/redis  - shared store for multi-instance deployments
type SessionStore interface {
	// Get retrieves a value for the session. Returns (nil, false, nil) when
	// the key is absent.
	Get(ctx context.Context, sessionID, key string) (interface{}, bool, error)

	// Set stores a value for the session.
	Set(ctx context.Context, sessionID, key string, value interface{}) error

	// Delete removes a key from the session. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, sessionID, key string) error
}
