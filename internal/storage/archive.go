package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/timmy/vidtalker/internal/logger"
)

// Archive copies pipeline artifacts (audio, transcripts, posts) to object
// storage under <prefix>/<run id>/<file name>.
type Archive struct {
	store  ObjectStorage
	prefix string
}

// NewArchive creates an Archive writing under prefix.
func NewArchive(store ObjectStorage, prefix string) *Archive {
	return &Archive{store: store, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for a run artifact.
func (a *Archive) Key(runID, fileName string) string {
	return path.Join(a.prefix, runID, filepath.Base(fileName))
}

// ArchiveRun uploads every file in paths and returns their URLs. Empty
// paths are skipped, as are artifacts already present under the run's
// prefix, so archiving a run twice uploads only what is missing.
func (a *Archive) ArchiveRun(ctx context.Context, runID string, paths ...string) ([]string, error) {
	log := logger.FromContext(ctx).WithField(logger.FieldRunID, runID)

	var urls []string
	uploaded := 0
	for _, p := range paths {
		if p == "" {
			continue
		}
		key := a.Key(runID, p)
		exists, err := a.store.Exists(ctx, key)
		if err != nil {
			return urls, err
		}
		if exists {
			log.Debugf("Artifact %s already archived", key)
		} else {
			if err := a.upload(ctx, key, p); err != nil {
				return urls, err
			}
			uploaded++
		}
		urls = append(urls, a.store.GetURL(key))
	}
	log.WithFields(logger.Fields{
		logger.FieldCount: len(urls),
		"uploaded":        uploaded,
	}).Info("Run artifacts archived")
	return urls, nil
}

func (a *Archive) upload(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat artifact: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return a.store.Upload(ctx, key, f, info.Size(), contentType)
}

// Restore downloads an archived artifact of a run into destDir and returns
// the local path. A missing object yields an error wrapping ErrObjectNotFound.
func (a *Archive) Restore(ctx context.Context, runID, fileName, destDir string) (string, error) {
	key := a.Key(runID, fileName)
	body, err := a.store.Download(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", destDir, err)
	}
	tmp, err := os.CreateTemp(destDir, ".restore-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	dest := filepath.Join(destDir, filepath.Base(fileName))
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to restore %s: %w", dest, err)
	}
	logger.FromContext(ctx).WithField(logger.FieldRunID, runID).Infof("Restored %s -> %s", key, dest)
	return dest, nil
}
