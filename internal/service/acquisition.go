package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/timmy/vidtalker/internal/domain"
	"github.com/timmy/vidtalker/internal/logger"
)

// AcquisitionConfig holds the external tools and output location.
type AcquisitionConfig struct {
	YtDlpPath  string
	FFmpegPath string
	WorkDir    string
	SampleRate int
	Timeout    time.Duration
}

// CommandRunner runs an external program and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// AudioAcquirer downloads the audio track of a video URL and resamples it
// to a fixed-rate mono mp3.
type AudioAcquirer struct {
	cfg AcquisitionConfig
	run CommandRunner
}

// NewAudioAcquirer creates an AudioAcquirer that shells out to yt-dlp and ffmpeg.
func NewAudioAcquirer(cfg AcquisitionConfig) *AudioAcquirer {
	return NewAudioAcquirerWithRunner(cfg, execRunner)
}

// NewAudioAcquirerWithRunner creates an AudioAcquirer with a custom command runner.
func NewAudioAcquirerWithRunner(cfg AcquisitionConfig, run CommandRunner) *AudioAcquirer {
	if cfg.YtDlpPath == "" {
		cfg.YtDlpPath = "yt-dlp"
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &AudioAcquirer{cfg: cfg, run: run}
}

// FetchAndPrepare downloads url into a directory named after runID and
// returns the path of the resampled audio file.
func (a *AudioAcquirer) FetchAndPrepare(ctx context.Context, url, runID string) (string, error) {
	const op = "acquisition.FetchAndPrepare"
	start := time.Now()

	if strings.TrimSpace(url) == "" {
		return "", domain.Errorf(domain.KindMalformedInput, op, "url is empty")
	}
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	dir := filepath.Join(a.cfg.WorkDir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", domain.E(domain.KindAcquisition, op, err)
	}

	original := filepath.Join(dir, "audio.mp3")
	converted := filepath.Join(dir, fmt.Sprintf("audio_%dHz.mp3", a.cfg.SampleRate))

	out, err := a.run(ctx, a.cfg.YtDlpPath,
		"--no-playlist",
		"-f", "bestaudio/best",
		"-x", "--audio-format", "mp3",
		"-o", filepath.Join(dir, "audio.%(ext)s"),
		url,
	)
	if err != nil {
		return "", domain.E(domain.KindAcquisition, op, fmt.Errorf("download failed: %w: %s", err, tail(out)))
	}
	if _, err := os.Stat(original); err != nil {
		return "", domain.E(domain.KindAcquisition, op, fmt.Errorf("downloader produced no audio: %w", err))
	}

	out, err = a.run(ctx, a.cfg.FFmpegPath,
		"-y", "-loglevel", "error",
		"-i", original,
		"-ar", strconv.Itoa(a.cfg.SampleRate),
		"-ac", "1",
		converted,
	)
	if err != nil {
		return "", domain.E(domain.KindAcquisition, op, fmt.Errorf("resample failed: %w: %s", err, tail(out)))
	}

	if err := os.Remove(original); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to remove original audio")
	}

	logger.With(logger.Fields{logger.FieldComponent: "acquisition"}).
		WithDuration(start).Info(ctx, "Audio ready at %s", converted)
	return converted, nil
}

// tail keeps the last part of tool output for error messages.
func tail(out []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(out))
	if len(s) > limit {
		s = "..." + s[len(s)-limit:]
	}
	return s
}
