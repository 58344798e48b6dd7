package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/timmy/vidtalker/internal/domain"
	"github.com/timmy/vidtalker/internal/logger"
)

// JobState is the state of an asynchronous transcription job.
type JobState string

const (
	JobStateAccepted  JobState = "Accepted"
	JobStatePending   JobState = "Pending"
	JobStateRunning   JobState = "Running"
	JobStateCompleted JobState = "Completed"
	JobStateFailed    JobState = "Failed"
)

// Terminal reports whether no further polling is needed.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// TranscriptionConfig holds configuration for the transcription job API.
type TranscriptionConfig struct {
	BaseURL         string
	APIKey          string
	PollInterval    time.Duration
	MaxWait         time.Duration
	WithDiarization bool
	OutputDir       string
	Timeout         time.Duration
}

// TranscriptionJob is returned by job initialization. The storage paths
// are SAS URLs of the job's input and output directories.
type TranscriptionJob struct {
	JobID             string `json:"job_id"`
	InputStoragePath  string `json:"input_storage_path"`
	OutputStoragePath string `json:"output_storage_path"`
}

// JobDetail maps an output file id to the input file it came from.
type JobDetail struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

// JobStatus is the job status document.
type JobStatus struct {
	JobID        string      `json:"job_id"`
	JobState     JobState    `json:"job_state"`
	ErrorMessage string      `json:"error_message,omitempty"`
	JobDetails   []JobDetail `json:"job_details"`
}

type startJobRequest struct {
	JobID         string        `json:"job_id"`
	JobParameters jobParameters `json:"job_parameters"`
}

type jobParameters struct {
	WithDiarization bool `json:"with_diarization"`
}

// TranscriptionClient runs diarized speech-to-text jobs: init, upload,
// start, poll, then download the transcript JSON.
type TranscriptionClient struct {
	api *resty.Client
	cfg TranscriptionConfig
}

// NewTranscriptionClient creates a TranscriptionClient.
func NewTranscriptionClient(cfg TranscriptionConfig) *TranscriptionClient {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 30 * time.Minute
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./transcribed_output"
	}

	api := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("API-Subscription-Key", cfg.APIKey)
	if cfg.Timeout > 0 {
		api.SetTimeout(cfg.Timeout)
	}

	return &TranscriptionClient{api: api, cfg: cfg}
}

func (c *TranscriptionClient) log(ctx context.Context) *logger.Logger {
	return logger.FromContext(ctx).WithField(logger.FieldComponent, "transcription")
}

// InitJob creates a job and returns its storage locations.
func (c *TranscriptionClient) InitJob(ctx context.Context) (*TranscriptionJob, error) {
	var job TranscriptionJob
	resp, err := c.api.R().
		SetContext(ctx).
		SetResult(&job).
		Post("/speech-to-text-translate/job/init")
	if err != nil {
		return nil, fmt.Errorf("failed to init job: %w", err)
	}
	if resp.StatusCode() != http.StatusAccepted {
		return nil, fmt.Errorf("init job: status %d: %s", resp.StatusCode(), resp.String())
	}
	if job.JobID == "" {
		return nil, errors.New("init job: response has no job_id")
	}
	return &job, nil
}

// StartJob starts processing the uploaded input files.
func (c *TranscriptionClient) StartJob(ctx context.Context, jobID string) error {
	resp, err := c.api.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(startJobRequest{
			JobID:         jobID,
			JobParameters: jobParameters{WithDiarization: c.cfg.WithDiarization},
		}).
		Post("/speech-to-text-translate/job")
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusAccepted {
		return fmt.Errorf("start job: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Status fetches the current job status.
func (c *TranscriptionClient) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	var status JobStatus
	resp, err := c.api.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/speech-to-text-translate/job/" + url.PathEscape(jobID) + "/status")
	if err != nil {
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("job status: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &status, nil
}

// Poll checks the job every PollInterval until it reaches a terminal
// state or MaxWait elapses. Transient status errors are retried.
func (c *TranscriptionClient) Poll(ctx context.Context, jobID string) (*JobStatus, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.MaxWait)
	defer cancel()

	attempt := 0
	var last *JobStatus
	err := backoff.Retry(func() error {
		attempt++
		status, err := c.Status(pollCtx, jobID)
		if err != nil {
			c.log(ctx).WithError(err).Warnf("Status check attempt %d failed", attempt)
			return err
		}
		last = status
		if !status.JobState.Terminal() {
			c.log(ctx).Debugf("Status check attempt %d: %s", attempt, status.JobState)
			return fmt.Errorf("job %s is %s", jobID, status.JobState)
		}
		return nil
	}, backoff.WithContext(backoff.NewConstantBackOff(c.cfg.PollInterval), pollCtx))

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("job %s did not finish within %s: %w", jobID, c.cfg.MaxWait, err)
	}
	return last, nil
}

// Transcribe runs a full job for one audio file and returns the path of
// the downloaded transcript JSON. When the job yields several output
// files, the first (by name) is returned and the rest are logged.
func (c *TranscriptionClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	const op = "transcription.Transcribe"
	start := time.Now()

	job, err := c.InitJob(ctx)
	if err != nil {
		return "", domain.E(domain.KindTranscription, op, err)
	}
	ctx = logger.WithField(ctx, "job_id", job.JobID)
	c.log(ctx).Info("Transcription job initialized")

	input, err := openSASDirectory(job.InputStoragePath)
	if err != nil {
		return "", domain.E(domain.KindTranscription, op, err)
	}
	if err := input.upload(ctx, audioPath); err != nil {
		return "", domain.E(domain.KindTranscription, op, err)
	}

	if err := c.StartJob(ctx, job.JobID); err != nil {
		return "", domain.E(domain.KindTranscription, op, err)
	}

	status, err := c.Poll(ctx, job.JobID)
	if err != nil {
		return "", domain.E(domain.KindTranscription, op, err)
	}
	if status.JobState != JobStateCompleted {
		msg := status.ErrorMessage
		if msg == "" {
			msg = "no details"
		}
		return "", domain.Errorf(domain.KindTranscription, op, "job %s failed: %s", job.JobID, msg)
	}

	output, err := openSASDirectory(job.OutputStoragePath)
	if err != nil {
		return "", domain.E(domain.KindTranscription, op, err)
	}
	files, err := output.list(ctx)
	if err != nil {
		return "", domain.E(domain.KindTranscription, op, err)
	}
	if len(files) == 0 {
		return "", domain.Errorf(domain.KindTranscription, op, "job %s produced no output files", job.JobID)
	}

	names := make(map[string]string, len(status.JobDetails))
	for _, d := range status.JobDetails {
		names[d.FileID] = d.FileName
	}

	if err := os.MkdirAll(c.cfg.OutputDir, 0755); err != nil {
		return "", domain.E(domain.KindTranscription, op, err)
	}

	var downloaded []string
	for _, file := range files {
		localName := file
		fileID := strings.SplitN(file, ".", 2)[0]
		if original, ok := names[fileID]; ok {
			original = filepath.Base(original)
			localName = strings.TrimSuffix(original, filepath.Ext(original)) + ".json"
		}
		if localName == "" || localName == "." || localName == ".json" {
			localName = file
		}
		dest := filepath.Join(c.cfg.OutputDir, localName)
		if err := output.download(ctx, file, dest); err != nil {
			return "", domain.E(domain.KindTranscription, op, err)
		}
		downloaded = append(downloaded, dest)
	}

	if len(downloaded) > 1 {
		c.log(ctx).WithField(logger.FieldCount, len(downloaded)).
			Warnf("Multiple transcript files produced; using %s and ignoring %v", downloaded[0], downloaded[1:])
	}

	logger.With(logger.Fields{"job_id": job.JobID}).WithDuration(start).Info(ctx, "Transcription completed")
	return downloaded[0], nil
}

// sasDirectory is a directory inside a blob container, reached through
// the SAS URL handed out by the job API.
type sasDirectory struct {
	client *container.Client
	prefix string // directory path with a trailing slash, empty at the container root
}

func openSASDirectory(raw string) (*sasDirectory, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid storage url: %w", err)
	}
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if u.Scheme == "" || u.Host == "" || parts[0] == "" {
		return nil, fmt.Errorf("invalid storage url %q", raw)
	}

	containerURL := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/" + parts[0], RawQuery: u.RawQuery}
	client, err := container.NewClientWithNoCredential(containerURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	dir := &sasDirectory{client: client}
	if len(parts) == 2 && strings.Trim(parts[1], "/") != "" {
		dir.prefix = strings.Trim(parts[1], "/") + "/"
	}
	return dir, nil
}

func (d *sasDirectory) upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "audio/wav"
	}

	name := filepath.Base(localPath)
	_, err = d.client.NewBlockBlobClient(d.prefix+name).UploadFile(ctx, f, &blockblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	logger.FromContext(ctx).WithField(logger.FieldComponent, "transcription").Infof("Uploaded %s (%s)", name, contentType)
	return nil
}

// list returns the sorted base names of files directly under the directory.
func (d *sasDirectory) list(ctx context.Context) ([]string, error) {
	var opts container.ListBlobsFlatOptions
	if d.prefix != "" {
		opts.Prefix = &d.prefix
	}

	var names []string
	pager := d.client.NewListBlobsFlatPager(&opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list output files: %w", err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			name := strings.TrimPrefix(*item.Name, d.prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *sasDirectory) download(ctx context.Context, name, dest string) error {
	resp, err := d.client.NewBlobClient(d.prefix+name).DownloadStream(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", name, err)
	}
	defer resp.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to download %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	logger.FromContext(ctx).WithField(logger.FieldComponent, "transcription").Infof("Downloaded %s -> %s", name, dest)
	return nil
}
