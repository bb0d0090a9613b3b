// Package storage provides the durable string-keyed backends the fact
// store persists through.
package storage

import "context"

// Backend is an async string-keyed store. Get reports absence through its
// second return value; a read miss is never an error.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}
