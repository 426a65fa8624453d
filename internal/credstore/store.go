// Package credstore holds the current access/refresh token pair in durable
// client-local storage. Every backend exposes the same narrow key-value
// surface so the API layer never touches files or databases directly.
package credstore

import (
	"context"
	"fmt"
	"log/slog"
)

// Fixed key names for the two persisted entries.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// Backend kinds accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindMemory = "memory"
)

// Store is a single source of truth for the session's token pair. Get returns
// an empty string (and no error) for an absent key. Clear removes every named
// key; absent keys are not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, keys ...string) error
}

// Error describes a failed store operation.
type Error struct {
	Op  string // "get", "set", "clear", "open"
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("credstore: %s %s: %v", e.Op, e.Key, e.Err)
	}

	return fmt.Sprintf("credstore: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Open returns the backend selected by kind. path is ignored for the memory
// backend. The caller owns closing backends that implement io.Closer.
func Open(ctx context.Context, kind, path string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch kind {
	case KindFile, "":
		return NewFile(path, logger), nil
	case KindSQLite:
		return OpenSQLite(ctx, path, logger)
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, &Error{Op: "open", Err: fmt.Errorf("unknown store kind %q", kind)}
	}
}
