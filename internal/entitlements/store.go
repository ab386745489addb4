// Package entitlements defines the per-user key-value store that holds
// entitlement state, and the record snapshot read from it.
package entitlements

import (
	"context"

	"github.com/rcourtman/buttonclicker/internal/catalog"
)

// Store is a key-value view scoped to one user. Setters stage writes; nothing
// is durable until Commit returns nil. Getters observe staged writes.
type Store interface {
	GetBool(key catalog.Key, def bool) bool
	GetInt(key catalog.Key, def int64) int64
	GetString(key catalog.Key, def string) string

	SetBool(key catalog.Key, value bool)
	SetInt(key catalog.Key, value int64)
	SetString(key catalog.Key, value string)

	// Commit atomically flushes staged writes.
	Commit(ctx context.Context) error
}

// Opener opens the store namespace of a single user.
type Opener interface {
	Open(ctx context.Context, userID string) (Store, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, userID string) (Store, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, userID string) (Store, error) {
	return f(ctx, userID)
}
