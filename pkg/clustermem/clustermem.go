// Package clustermem is the ephemeral keyed store shared by all workers of
// one executor session. Entries live as raw bytes; the object store applies
// the serializer on top.
package clustermem

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound means no entry exists for the key in the namespace.
	ErrKeyNotFound = errors.New("key not found in cluster memory")
	// ErrUnavailable means the backing session is gone or unreachable.
	// Under the fallback strategy the object store retries on the
	// artifact tier when it sees this.
	ErrUnavailable = errors.New("cluster memory unavailable")
)

// ClusterMemory is the shared-memory facility of an executor session.
// Put/Get/Delete on different keys must not block each other; Clear is
// exclusive across the namespace and linearized against all concurrent
// operations in it.
type ClusterMemory interface {
	Put(ctx context.Context, namespace, key string, value []byte) error
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) ([]string, error)
	Clear(ctx context.Context, namespace string) error
}
