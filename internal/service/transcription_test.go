package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/vidtalker/internal/domain"
)

const sampleTranscript = `{
  "request_id": "req-1",
  "transcript": "hello there general kenobi",
  "language_code": "en-IN",
  "diarized_transcript": {"entries": [
    {"speaker_id": "0", "transcript": "hello there", "start_time_seconds": 0, "end_time_seconds": 1.5},
    {"speaker_id": "1", "transcript": "general kenobi", "start_time_seconds": 1.5, "end_time_seconds": 3}
  ]}
}`

// fakeJobServer serves the job API and the SAS blob endpoints from one host.
type fakeJobServer struct {
	t *testing.T

	mu          sync.Mutex
	finalState  JobState
	pendingPoll int
	polls       int
	uploaded    []byte
	uploadName  string
	uploadType  string
	started     startJobRequest
	outputs     map[string]string
	details     []JobDetail
	listCalls   int
}

// outputNames returns output blob names in reverse order so the client
// has to sort them itself.
func (f *fakeJobServer) outputNames() []string {
	var names []string
	for name := range f.outputs {
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names
}

func (f *fakeJobServer) handler(baseURL func() string) http.Handler {
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /speech-to-text-translate/job/init", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("API-Subscription-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusAccepted, TranscriptionJob{
			JobID:             "job-1",
			InputStoragePath:  baseURL() + "/container/job-1/inputs?sv=1&sig=abc",
			OutputStoragePath: baseURL() + "/container/job-1/outputs?sv=1&sig=abc",
		})
	})
	mux.HandleFunc("POST /speech-to-text-translate/job", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&f.started)
		writeJSON(w, http.StatusOK, map[string]string{"job_id": f.started.JobID})
	})
	mux.HandleFunc("GET /speech-to-text-translate/job/job-1/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.polls++
		state := f.finalState
		if f.polls <= f.pendingPoll {
			state = JobStateRunning
		}
		details := f.details
		if details == nil {
			details = []JobDetail{
				{FileID: "0", FileName: "audio_16000Hz.mp3"},
				{FileID: "1", FileName: "extra.mp3"},
			}
		}
		status := JobStatus{JobID: "job-1", JobState: state, JobDetails: details}
		if state == JobStateFailed {
			status.ErrorMessage = "audio too short"
		}
		writeJSON(w, http.StatusOK, status)
	})
	// Container listing, one blob per page.
	mux.HandleFunc("GET /container", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(f.t, "list", q.Get("comp"))
		assert.Equal(f.t, "container", q.Get("restype"))
		assert.Equal(f.t, "job-1/outputs/", q.Get("prefix"))
		assert.Equal(f.t, "abc", q.Get("sig"))

		f.mu.Lock()
		f.listCalls++
		f.mu.Unlock()

		names := f.outputNames()
		page := 0
		if marker := q.Get("marker"); marker != "" {
			page, _ = strconv.Atoi(marker)
		}

		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?><EnumerationResults ContainerName="container"><Blobs>`)
		if page < len(names) {
			fmt.Fprintf(w, "<Blob><Name>job-1/outputs/%s</Name></Blob>", names[page])
		}
		fmt.Fprint(w, "</Blobs>")
		if page+1 < len(names) {
			fmt.Fprintf(w, "<NextMarker>%d</NextMarker>", page+1)
		} else {
			fmt.Fprint(w, "<NextMarker />")
		}
		fmt.Fprint(w, "</EnumerationResults>")
	})
	// Blob upload and download.
	mux.HandleFunc("/container/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "abc", r.URL.Query().Get("sig"))
		name := strings.TrimPrefix(r.URL.Path, "/container/")

		switch r.Method {
		case http.MethodPut:
			assert.Equal(f.t, "BlockBlob", r.Header.Get("x-ms-blob-type"))
			if !strings.HasPrefix(name, "job-1/inputs/") {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.uploaded = body
			f.uploadName = strings.TrimPrefix(name, "job-1/inputs/")
			f.uploadType = r.Header.Get("x-ms-blob-content-type")
			f.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			body, ok := f.outputs[strings.TrimPrefix(name, "job-1/outputs/")]
			if !ok || !strings.HasPrefix(name, "job-1/outputs/") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprint(w, body)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func newTranscriptionFixture(t *testing.T, f *fakeJobServer) (*TranscriptionClient, string) {
	t.Helper()
	f.t = t
	var srv *httptest.Server
	srv = httptest.NewServer(f.handler(func() string { return srv.URL }))
	t.Cleanup(srv.Close)

	client := NewTranscriptionClient(TranscriptionConfig{
		BaseURL:         srv.URL,
		APIKey:          "secret",
		PollInterval:    5 * time.Millisecond,
		MaxWait:         2 * time.Second,
		WithDiarization: true,
		OutputDir:       filepath.Join(t.TempDir(), "out"),
	})

	audio := filepath.Join(t.TempDir(), "audio_16000Hz.mp3")
	require.NoError(t, os.WriteFile(audio, []byte("ID3 fake audio"), 0644))
	return client, audio
}

func TestTranscribe(t *testing.T) {
	f := &fakeJobServer{
		finalState:  JobStateCompleted,
		pendingPoll: 2,
		outputs:     map[string]string{"0.json": sampleTranscript},
	}
	client, audio := newTranscriptionFixture(t, f)

	path, err := client.Transcribe(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, "audio_16000Hz.json", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, sampleTranscript, string(data))

	assert.Equal(t, "audio_16000Hz.mp3", f.uploadName)
	assert.Equal(t, []byte("ID3 fake audio"), f.uploaded)
	assert.NotEmpty(t, f.uploadType)
	assert.Equal(t, "job-1", f.started.JobID)
	assert.True(t, f.started.JobParameters.WithDiarization)
	assert.Equal(t, 3, f.polls)
}

func TestTranscribeMultipleOutputsUsesFirst(t *testing.T) {
	f := &fakeJobServer{
		finalState: JobStateCompleted,
		outputs: map[string]string{
			"0.json": sampleTranscript,
			"1.json": `{"diarized_transcript":{"entries":[]}}`,
		},
	}
	client, audio := newTranscriptionFixture(t, f)

	path, err := client.Transcribe(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, "audio_16000Hz.json", filepath.Base(path))
	assert.FileExists(t, filepath.Join(filepath.Dir(path), "extra.json"))
	assert.Equal(t, 2, f.listCalls, "listing should follow the continuation marker")
}

func TestTranscribeListsEveryPage(t *testing.T) {
	outputs := map[string]string{}
	var details []JobDetail
	for i := 0; i < 4; i++ {
		id := strconv.Itoa(i)
		outputs[id+".json"] = sampleTranscript
		details = append(details, JobDetail{FileID: id, FileName: "part" + id + ".mp3"})
	}
	f := &fakeJobServer{finalState: JobStateCompleted, outputs: outputs, details: details}
	client, audio := newTranscriptionFixture(t, f)

	path, err := client.Transcribe(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, "part0.json", filepath.Base(path))
	assert.Equal(t, 4, f.listCalls)
	for i := 1; i < 4; i++ {
		assert.FileExists(t, filepath.Join(filepath.Dir(path), "part"+strconv.Itoa(i)+".json"))
	}
}

func TestTranscribeKeepsDownloadsInsideOutputDir(t *testing.T) {
	f := &fakeJobServer{
		finalState: JobStateCompleted,
		outputs:    map[string]string{"0.json": sampleTranscript},
		details:    []JobDetail{{FileID: "0", FileName: "../../escaped.mp3"}},
	}
	client, audio := newTranscriptionFixture(t, f)

	path, err := client.Transcribe(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(client.cfg.OutputDir, "escaped.json"), path)
	assert.NoFileExists(t, filepath.Join(client.cfg.OutputDir, "..", "..", "escaped.json"))
}

func TestTranscribeFailedJob(t *testing.T) {
	f := &fakeJobServer{finalState: JobStateFailed}
	client, audio := newTranscriptionFixture(t, f)

	_, err := client.Transcribe(context.Background(), audio)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTranscription))
	assert.Contains(t, err.Error(), "audio too short")
}

func TestTranscribeNoOutputs(t *testing.T) {
	f := &fakeJobServer{finalState: JobStateCompleted, outputs: map[string]string{}}
	client, audio := newTranscriptionFixture(t, f)

	_, err := client.Transcribe(context.Background(), audio)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTranscription))
}

func TestTranscribeRejectedKey(t *testing.T) {
	f := &fakeJobServer{finalState: JobStateCompleted}
	client, audio := newTranscriptionFixture(t, f)
	client.api.SetHeader("API-Subscription-Key", "wrong")

	_, err := client.Transcribe(context.Background(), audio)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTranscription))
	assert.Contains(t, err.Error(), "status 401")
}

func TestPollGivesUpAfterMaxWait(t *testing.T) {
	f := &fakeJobServer{finalState: JobStateCompleted, pendingPoll: 1 << 30}
	client, _ := newTranscriptionFixture(t, f)
	client.cfg.MaxWait = 50 * time.Millisecond

	_, err := client.Poll(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish")
}

func TestOpenSASDirectory(t *testing.T) {
	dir, err := openSASDirectory("https://acct.blob.core.windows.net/jobs/abc/inputs?sv=2024&sig=x%2Fy")
	require.NoError(t, err)
	assert.Equal(t, "abc/inputs/", dir.prefix)
	assert.Equal(t, "https://acct.blob.core.windows.net/jobs?sv=2024&sig=x%2Fy", dir.client.URL())

	root, err := openSASDirectory("https://acct.blob.core.windows.net/jobs?sv=2024")
	require.NoError(t, err)
	assert.Empty(t, root.prefix)

	_, err = openSASDirectory("not a url")
	assert.Error(t, err)
}
