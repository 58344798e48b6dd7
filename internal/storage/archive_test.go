package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStorage struct {
	objects map[string][]byte
	types   map[string]string
	uploads int
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryStorage) Upload(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	m.types[key] = contentType
	m.uploads++
	return nil
}

func (m *memoryStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStorage) GetURL(key string) string {
	return "mem://" + key
}

func (m *memoryStorage) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func TestArchiveRun(t *testing.T) {
	dir := t.TempDir()
	transcript := filepath.Join(dir, "talk.json")
	require.NoError(t, os.WriteFile(transcript, []byte(`{"transcript":"hi"}`), 0o644))

	store := newMemoryStorage()
	archive := NewArchive(store, "/runs/")

	urls, err := archive.ArchiveRun(context.Background(), "run-1", transcript, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"mem://runs/run-1/talk.json"}, urls)
	assert.Equal(t, `{"transcript":"hi"}`, string(store.objects["runs/run-1/talk.json"]))
	assert.Equal(t, "application/json", store.types["runs/run-1/talk.json"])
}

func TestArchiveRunMissingFile(t *testing.T) {
	archive := NewArchive(newMemoryStorage(), "runs")
	_, err := archive.ArchiveRun(context.Background(), "run-1", filepath.Join(t.TempDir(), "nope.mp3"))
	assert.Error(t, err)
}

func TestArchiveRunSkipsExistingObjects(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "audio_16000Hz.mp3")
	transcript := filepath.Join(dir, "talk.json")
	require.NoError(t, os.WriteFile(audio, []byte("new audio"), 0o644))
	require.NoError(t, os.WriteFile(transcript, []byte(`{}`), 0o644))

	store := newMemoryStorage()
	store.objects["runs/run-1/audio_16000Hz.mp3"] = []byte("archived audio")
	archive := NewArchive(store, "runs")

	urls, err := archive.ArchiveRun(context.Background(), "run-1", audio, transcript)
	require.NoError(t, err)
	assert.Len(t, urls, 2)
	assert.Equal(t, 1, store.uploads)
	assert.Equal(t, "archived audio", string(store.objects["runs/run-1/audio_16000Hz.mp3"]))

	_, err = archive.ArchiveRun(context.Background(), "run-1", audio, transcript)
	require.NoError(t, err)
	assert.Equal(t, 1, store.uploads)
}

func TestRestore(t *testing.T) {
	store := newMemoryStorage()
	store.objects["runs/run-1/talk.json"] = []byte(`{"transcript":"hi"}`)
	archive := NewArchive(store, "runs")
	dest := filepath.Join(t.TempDir(), "restored")

	path, err := archive.Restore(context.Background(), "run-1", "/old/host/path/talk.json", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "talk.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"transcript":"hi"}`, string(data))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestRestoreMissingObject(t *testing.T) {
	archive := NewArchive(newMemoryStorage(), "runs")
	_, err := archive.Restore(context.Background(), "run-1", "talk.json", t.TempDir())
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestDetectStorageType(t *testing.T) {
	assert.Equal(t, StorageTypeR2, detectStorageType("https://abc.r2.cloudflarestorage.com"))
	assert.Equal(t, StorageTypeS3, detectStorageType("s3.us-east-1.amazonaws.com"))
	assert.Equal(t, StorageTypeS3Compatible, detectStorageType("localhost:9000"))
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"localhost:9000", false, "http://localhost:9000"},
		{"http://localhost:9000/bucket/", true, "http://localhost:9000"},
		{"abc.r2.cloudflarestorage.com", true, "https://abc.r2.cloudflarestorage.com"},
		{"minio.internal/some/path", false, "http://minio.internal"},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, endpointURL(tt.endpoint, tt.useSSL))
		})
	}
}

func TestRegionFor(t *testing.T) {
	assert.Equal(t, "auto", regionFor(&S3Config{Type: StorageTypeR2}))
	assert.Equal(t, "us-east-1", regionFor(&S3Config{Type: StorageTypeS3Compatible}))
	assert.Equal(t, "eu-west-1", regionFor(&S3Config{Type: StorageTypeR2, Region: "eu-west-1"}))
}
