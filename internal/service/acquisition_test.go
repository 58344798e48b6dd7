package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/vidtalker/internal/domain"
)

// fakeTools mimics yt-dlp and ffmpeg by writing their output files.
type fakeTools struct {
	calls       [][]string
	downloadErr error
	skipOutput  bool
}

func (f *fakeTools) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	switch name {
	case "yt-dlp":
		if f.downloadErr != nil {
			return []byte("ERROR: Video unavailable"), f.downloadErr
		}
		if f.skipOutput {
			return nil, nil
		}
		for i, a := range args {
			if a == "-o" {
				out := strings.Replace(args[i+1], "%(ext)s", "mp3", 1)
				return nil, os.WriteFile(out, []byte("original"), 0644)
			}
		}
	case "ffmpeg":
		return nil, os.WriteFile(args[len(args)-1], []byte("resampled"), 0644)
	}
	return nil, nil
}

func TestFetchAndPrepare(t *testing.T) {
	dir := t.TempDir()
	tools := &fakeTools{}
	a := NewAudioAcquirerWithRunner(AcquisitionConfig{WorkDir: dir}, tools.run)

	path, err := a.FetchAndPrepare(context.Background(), "https://youtu.be/abc", "run-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1", "audio_16000Hz.mp3"), path)
	assert.FileExists(t, path)
	assert.NoFileExists(t, filepath.Join(dir, "run-1", "audio.mp3"))

	require.Len(t, tools.calls, 2)
	assert.Equal(t, "https://youtu.be/abc", tools.calls[0][len(tools.calls[0])-1])
	ffmpeg := strings.Join(tools.calls[1], " ")
	assert.Contains(t, ffmpeg, "-ar 16000")
	assert.Contains(t, ffmpeg, "-ac 1")
}

func TestFetchAndPrepareDownloadFailure(t *testing.T) {
	tools := &fakeTools{downloadErr: errors.New("exit status 1")}
	a := NewAudioAcquirerWithRunner(AcquisitionConfig{WorkDir: t.TempDir()}, tools.run)

	_, err := a.FetchAndPrepare(context.Background(), "https://youtu.be/gone", "run-2")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindAcquisition))
	assert.Contains(t, err.Error(), "Video unavailable")
}

func TestFetchAndPrepareMissingDownload(t *testing.T) {
	tools := &fakeTools{skipOutput: true}
	a := NewAudioAcquirerWithRunner(AcquisitionConfig{WorkDir: t.TempDir()}, tools.run)

	_, err := a.FetchAndPrepare(context.Background(), "https://youtu.be/abc", "run-3")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindAcquisition))
	assert.Len(t, tools.calls, 1)
}

func TestFetchAndPrepareEmptyURL(t *testing.T) {
	a := NewAudioAcquirerWithRunner(AcquisitionConfig{WorkDir: t.TempDir()}, (&fakeTools{}).run)

	_, err := a.FetchAndPrepare(context.Background(), " ", "run-4")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindMalformedInput))
}
