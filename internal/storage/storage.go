// Package storage archives finished job artifacts to object storage.
package storage

import (
	"context"
)

// Storage is a write only artifact sink.
type Storage interface {
	Put(ctx context.Context, key string, content []byte, mediaType string) error
	Delete(ctx context.Context, key string) error
}
