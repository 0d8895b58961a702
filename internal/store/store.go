// Package store provides the key-value persistence used by the ballot
// pipeline: ballots, baselines, trackers, manifests, and dated logs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by Get when a key is missing or expired.
var ErrNotFound = eris.New("store: key not found")

// Store is a key-value store with optional per-entry expiry. A ttl of zero
// means the entry never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// PutIfAbsent writes only when the key is missing or expired and
	// reports whether the write happened.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Extend resets the ttl of a live key that still holds value and reports
	// whether it did.
	Extend(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// DeleteIf removes key only while it holds value.
	DeleteIf(ctx context.Context, key string, value []byte) (bool, error)
	// List returns live keys with the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	PurgeExpired(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// GetJSON loads and decodes the value at key. The boolean is false when the
// key does not exist.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var zero T
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, true, eris.Wrapf(err, "store: decode %s", key)
	}
	return v, true, nil
}

// PutJSON encodes v and writes it at key.
func PutJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "store: encode %s", key)
	}
	return s.Put(ctx, key, data, ttl)
}

// expiry converts a ttl into an absolute unix-millisecond deadline, or nil.
func expiry(now time.Time, ttl time.Duration) *int64 {
	if ttl == 0 {
		return nil
	}
	ms := now.Add(ttl).UnixMilli()
	return &ms
}

// likePrefix escapes LIKE wildcards in prefix and appends %.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
