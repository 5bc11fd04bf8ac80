// Package blob abstracts the remote object store chunks are uploaded to.
// Providers are deliberately dumb byte stores; retry, ordering and
// concurrency live in the transfer layer.
package blob

import "context"

// Store is the contract every provider implements. Get returns
// common.ErrObjectNotFound (possibly wrapped) when the key is absent.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	String() string
}

// ChunkKey builds the object key for a chunk: <jobID>/chunks/<hash>.chunk.
func ChunkKey(jobID, hash string) string {
	return jobID + "/chunks/" + hash + ".chunk"
}
