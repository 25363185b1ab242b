package storage_test

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"putprobe/internal/storage"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoragePutAndGet(t *testing.T) {
	t.Parallel()

	engine := storage.NewMemoryStorage()
	payload := []byte("hello memory storage")

	info, err := engine.PutObject("notes", "dir/note.zip", "application/zip", payload)
	require.NoError(t, err, "PutObject error")

	sum := md5.Sum(payload)
	require.Equal(t, `"`+hex.EncodeToString(sum[:])+`"`, info.ETag, "ETag should be the quoted MD5")
	require.Equal(t, int64(len(payload)), info.Size)
	require.Equal(t, "application/zip", info.ContentType)
	require.False(t, info.LastModified.IsZero())

	got, gotInfo, err := engine.GetObject("notes", "dir/note.zip")
	require.NoError(t, err, "GetObject error")
	require.Equal(t, payload, got, "payload mismatch")
	require.Equal(t, info, gotInfo)

	// Mutating the caller's slices must not affect stored data.
	payload[0] = 'X'
	got[1] = 'Y'
	again, _, err := engine.GetObject("notes", "dir/note.zip")
	require.NoError(t, err)
	require.Equal(t, "hello memory storage", string(again))
}

func TestMemoryStorageMissingObject(t *testing.T) {
	t.Parallel()

	engine := storage.NewMemoryStorage()

	_, _, err := engine.GetObject("notes", "missing")
	require.ErrorIs(t, err, storage.ErrNoSuchObject)

	_, err = engine.StatObject("notes", "missing")
	require.ErrorIs(t, err, storage.ErrNoSuchObject)

	require.NoError(t, engine.DeleteObject("notes", "missing"), "deleting a missing object is not an error")
}

func TestMemoryStorageOverwriteAndDelete(t *testing.T) {
	t.Parallel()

	engine := storage.NewMemoryStorage()

	_, err := engine.PutObject("notes", "k", "text/plain", []byte("one"))
	require.NoError(t, err)
	_, err = engine.PutObject("notes", "k", "text/plain", []byte("three"))
	require.NoError(t, err)

	info, err := engine.StatObject("notes", "k")
	require.NoError(t, err)
	require.Equal(t, int64(5), info.Size, "second PUT should replace the first")

	require.NoError(t, engine.DeleteObject("notes", "k"))
	_, err = engine.StatObject("notes", "k")
	require.ErrorIs(t, err, storage.ErrNoSuchObject)
}

func TestMemoryStorageInvalidName(t *testing.T) {
	t.Parallel()

	engine := storage.NewMemoryStorage()
	_, err := engine.PutObject("", "k", "", nil)
	require.Error(t, err, "expected error for empty bucket")
	_, err = engine.PutObject("b", "", "", nil)
	require.Error(t, err, "expected error for empty key")
}

func TestMemoryStorageConcurrentAccess(t *testing.T) {
	t.Parallel()

	engine := storage.NewMemoryStorage()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i)
			if _, err := engine.PutObject("notes", key, "", []byte(key)); err != nil {
				errs <- err
			}
			if _, err := engine.StatObject("notes", key); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err, "concurrent access error")
	}
}
