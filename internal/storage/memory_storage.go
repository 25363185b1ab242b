package storage

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

type memoryObject struct {
	info ObjectInfo
	data []byte
}

// MemoryStorage is a StorageEngine that keeps every payload in memory. It is
// safe for concurrent use.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

func objectID(bucket string, key string) string {
	return bucket + "/" + key
}

func (s *MemoryStorage) PutObject(bucket string, key string, contentType string, data []byte) (ObjectInfo, error) {
	if bucket == "" || key == "" {
		return ObjectInfo{}, fmt.Errorf("invalid object name %q/%q", bucket, key)
	}

	// S3 reports the hex MD5 of single-part uploads as the ETag.
	sum := md5.Sum(data)
	info := ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  contentType,
		ETag:         `"` + hex.EncodeToString(sum[:]) + `"`,
		LastModified: s.now().UTC(),
	}

	payload := make([]byte, len(data))
	copy(payload, data)

	s.mu.Lock()
	s.objects[objectID(bucket, key)] = memoryObject{info: info, data: payload}
	s.mu.Unlock()

	return info, nil
}

func (s *MemoryStorage) GetObject(bucket string, key string) ([]byte, ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[objectID(bucket, key)]
	s.mu.RUnlock()

	if !ok {
		return nil, ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrNoSuchObject, bucket, key)
	}

	payload := make([]byte, len(obj.data))
	copy(payload, obj.data)
	return payload, obj.info, nil
}

func (s *MemoryStorage) StatObject(bucket string, key string) (ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[objectID(bucket, key)]
	s.mu.RUnlock()

	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrNoSuchObject, bucket, key)
	}
	return obj.info, nil
}

func (s *MemoryStorage) DeleteObject(bucket string, key string) error {
	s.mu.Lock()
	delete(s.objects, objectID(bucket, key))
	s.mu.Unlock()
	return nil
}
