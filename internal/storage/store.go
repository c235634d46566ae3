package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a setting is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// SettingsStore is a string-keyed settings accessor. Implementations must
// distinguish an absent key (ErrNotFound) from a key holding "".
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) (map[string]string, error)
	Clear(ctx context.Context) error
	Close() error
}
