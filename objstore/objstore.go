package objstore

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/tcriess/burnbox/config"
)

// ErrNotExist is returned when the requested object is not in the store.
var ErrNotExist = errors.New("object does not exist")

const (
	// RoomsRoot holds every room-scoped object, DropsRoot every drop-scoped
	// one. The reconciler sweeps below these two prefixes.
	RoomsRoot = "rooms/"
	DropsRoot = "file-drops/"

	dropPrefixLen = 8
)

// ObjectStore is the blob store capability set. Objects are opaque ciphertext,
// keyed by the layouts below.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get streams the object; the caller closes the reader. The returned size
	// is the object size in bytes.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
	// DeleteBatch attempts every key and returns the first failure, if any.
	DeleteBatch(ctx context.Context, keys []string) error
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
	// EnsureBucket prepares the backing bucket, creating it when missing.
	EnsureBucket(ctx context.Context) error
}

// NewObjectStore returns the configured backend, or nil if none is
// configured, in which case the file features stay disabled.
func NewObjectStore(cfg *config.Config) (ObjectStore, error) {
	if !cfg.ObjectConfig.Enabled() {
		return nil, nil // no or wrong configuration, run without an object store
	}
	return NewMinioStore(cfg)
}

func RoomFileKey(roomHash, fileID string) string {
	return RoomsRoot + roomHash + "/files/" + fileID + ".bin"
}

// DropFileKey buckets drop objects by the first 8 hash characters, so the
// reconciler can recover the session scan prefix from the key alone.
func DropFileKey(dropHash, fileID string) string {
	return DropsRoot + dropHash[:dropPrefixLen] + "/" + fileID + ".bin"
}

// RoomHashFromKey extracts the room hash from a rooms-scoped object key.
func RoomHashFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, RoomsRoot)
	if !ok {
		return "", false
	}
	hash, _, ok := strings.Cut(rest, "/")
	if !ok || hash == "" {
		return "", false
	}
	return hash, true
}

// DropPrefixFromKey extracts the hash prefix from a drop-scoped object key.
func DropPrefixFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, DropsRoot)
	if !ok {
		return "", false
	}
	prefix, _, ok := strings.Cut(rest, "/")
	if !ok || len(prefix) != dropPrefixLen {
		return "", false
	}
	return prefix, true
}
