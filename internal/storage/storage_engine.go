package storage

import (
	"errors"
	"time"
)

var ErrNoSuchObject = errors.New("no such object")

// ObjectInfo describes a stored object without its payload.
type ObjectInfo struct {
	Bucket       string
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// StorageEngine defines the interface for a storage backend that keeps the
// payloads received by the sink, organized into buckets and addressed by key.
type StorageEngine interface {
	// PutObject stores data under bucket/key, replacing any previous payload.
	PutObject(bucket string, key string, contentType string, data []byte) (ObjectInfo, error)

	// GetObject retrieves a payload previously stored under bucket/key.
	GetObject(bucket string, key string) ([]byte, ObjectInfo, error)

	// StatObject returns the metadata of bucket/key.
	StatObject(bucket string, key string) (ObjectInfo, error)

	// DeleteObject removes bucket/key. Deleting a missing object is not an
	// error.
	DeleteObject(bucket string, key string) error
}
