package storage

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DiskStorage is a StorageEngine that keeps payloads on the local filesystem
// so received uploads survive a restart and can be inspected by hand.
//
// Payloads are content addressed under dataDir/objects by their SHA-256, with
// the first two hex characters used as a subdirectory prefix. Each bucket/key
// has a JSON record under dataDir/index pointing at its payload, so identical
// uploads to different keys share one file.
type DiskStorage struct {
	dataDir string

	mu  sync.RWMutex
	now func() time.Time
}

type diskRecord struct {
	ObjectInfo
	SHA256 string `json:"sha256"`
}

// NewDiskStorage creates a DiskStorage rooted at dataDir.
func NewDiskStorage(dataDir string) (*DiskStorage, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &DiskStorage{dataDir: dataDir, now: time.Now}, nil
}

// PayloadPath computes the filesystem path of the payload with the given
// SHA-256 hash.
func PayloadPath(directory string, hashHex string) (string, error) {
	if len(hashHex) < 2 {
		return "", fmt.Errorf("invalid hash length: %d", len(hashHex))
	}
	return filepath.Join(directory, "objects", hashHex[:2], hashHex), nil
}

func (s *DiskStorage) recordPath(bucket string, key string) (string, error) {
	if bucket == "" || key == "" || strings.ContainsAny(bucket, `/\`) {
		return "", fmt.Errorf("invalid object name %q/%q", bucket, key)
	}

	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.dataDir, "index", bucket, rel+".json"), nil
}

func (s *DiskStorage) tmpDir() string {
	return filepath.Join(s.dataDir, "tmp")
}

func (s *DiskStorage) readRecord(bucket string, key string) (diskRecord, error) {
	recPath, err := s.recordPath(bucket, key)
	if err != nil {
		return diskRecord{}, err
	}

	raw, err := os.ReadFile(recPath)
	if errors.Is(err, fs.ErrNotExist) {
		return diskRecord{}, fmt.Errorf("%w: %s/%s", ErrNoSuchObject, bucket, key)
	}
	if err != nil {
		return diskRecord{}, err
	}

	var rec diskRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return diskRecord{}, fmt.Errorf("corrupt record for %s/%s: %w", bucket, key, err)
	}
	return rec, nil
}

func (s *DiskStorage) PutObject(bucket string, key string, contentType string, data []byte) (ObjectInfo, error) {
	recPath, err := s.recordPath(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}

	sha := sha256.Sum256(data)
	hashHex := hex.EncodeToString(sha[:])
	payloadPath, err := PayloadPath(s.dataDir, hashHex)
	if err != nil {
		return ObjectInfo{}, err
	}

	sum := md5.Sum(data)
	rec := diskRecord{
		ObjectInfo: ObjectInfo{
			Bucket:       bucket,
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  contentType,
			ETag:         `"` + hex.EncodeToString(sum[:]) + `"`,
			LastModified: s.now().UTC(),
		},
		SHA256: hashHex,
	}

	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return ObjectInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// An existing payload with the same hash and size is reused.
	if info, err := os.Stat(payloadPath); err != nil || !info.Mode().IsRegular() || info.Size() != rec.Size {
		if err := WriteFileAtomic(s.tmpDir(), payloadPath, data); err != nil {
			return ObjectInfo{}, fmt.Errorf("failed to write payload: %w", err)
		}
	}

	if err := WriteFileAtomic(s.tmpDir(), recPath, raw); err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to write record: %w", err)
	}

	return rec.ObjectInfo, nil
}

func (s *DiskStorage) GetObject(bucket string, key string) ([]byte, ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.readRecord(bucket, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}

	payloadPath, err := PayloadPath(s.dataDir, rec.SHA256)
	if err != nil {
		return nil, ObjectInfo{}, err
	}

	data, err := os.ReadFile(payloadPath)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("failed to read payload of %s/%s: %w", bucket, key, err)
	}
	return data, rec.ObjectInfo, nil
}

func (s *DiskStorage) StatObject(bucket string, key string) (ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.readRecord(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	return rec.ObjectInfo, nil
}

// DeleteObject removes the record of bucket/key. Payloads are left in place
// because other keys may still point at them.
func (s *DiskStorage) DeleteObject(bucket string, key string) error {
	recPath, err := s.recordPath(bucket, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(recPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
