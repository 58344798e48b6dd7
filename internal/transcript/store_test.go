package transcript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/vidtalker/internal/domain"
)

const sampleJSON = `{
  "request_id": "job-1",
  "transcript": "intro middle point conclusion",
  "diarized_transcript": {"entries": [
    {"speaker_id": "1", "transcript": "middle point", "start_time_seconds": 5, "end_time_seconds": 9.5},
    {"speaker_id": "0", "transcript": "intro", "start_time_seconds": 0, "end_time_seconds": 4},
    {"transcript": "conclusion", "start_time_seconds": 10, "end_time_seconds": 14}
  ]}
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadNormalizes(t *testing.T) {
	f, err := Load(writeFile(t, "t.json", sampleJSON))
	require.NoError(t, err)

	entries := f.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "intro", entries[0].Text)
	assert.Equal(t, "middle point", entries[1].Text)
	assert.Equal(t, domain.UnknownSpeaker, entries[2].SpeakerID)
	for i, e := range entries {
		assert.Equal(t, i, e.Index)
	}
}

func TestLoadMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad json", `{"diarized_transcript": `},
		{"missing diarized_transcript", `{"transcript": "hi"}`},
		{"missing transcript field", `{"diarized_transcript": {"entries": [{"speaker_id": "0", "start_time_seconds": 0, "end_time_seconds": 1}]}}`},
		{"end before start", `{"diarized_transcript": {"entries": [{"transcript": "x", "start_time_seconds": 3, "end_time_seconds": 1}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "t.json", tt.content))
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.KindMalformedInput))
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, domain.IsKind(err, domain.KindMalformedInput))
}

func TestSaveKeepsEmbeddings(t *testing.T) {
	f, err := Load(writeFile(t, "t.json", sampleJSON))
	require.NoError(t, err)
	f.DiarizedTranscript.Entries[1].Embedding = []float32{0.1, 0.2, 0.3}

	out := EmbeddedPath(filepath.Join(t.TempDir(), "video.json"))
	assert.Equal(t, "video.embedded.json", filepath.Base(out))
	require.NoError(t, Save(out, f))

	again, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, again.Entries()[1].Embedding)
	assert.Nil(t, again.Entries()[0].Embedding)
}

func TestFullText(t *testing.T) {
	f, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)
	assert.Equal(t, "intro middle point conclusion", FullText(f))

	f.Transcript = ""
	assert.Equal(t, "intro middle point conclusion", FullText(f))
}

func TestToVectors(t *testing.T) {
	f, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)

	_, err = ToVectors(f)
	assert.ErrorIs(t, err, ErrNotEmbedded)

	f.DiarizedTranscript.Entries[0].Embedding = []float32{1, 0}
	f.DiarizedTranscript.Entries[2].Embedding = []float32{0, 1}

	vectors, err := ToVectors(f)
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, "entry_0", vectors[0].ID)
	assert.Equal(t, "entry_2", vectors[1].ID)
	assert.Equal(t, domain.VectorMetadata{Text: "conclusion", SpeakerID: domain.UnknownSpeaker, StartTime: 10, EndTime: 14}, vectors[1].Metadata)
}

func TestToVectorsAllBlankEntries(t *testing.T) {
	f, err := Parse([]byte(`{"diarized_transcript": {"entries": [
		{"speaker_id": "0", "transcript": "", "start_time_seconds": 0, "end_time_seconds": 1},
		{"speaker_id": "1", "transcript": "   ", "start_time_seconds": 1, "end_time_seconds": 2}
	]}}`))
	require.NoError(t, err)

	vectors, err := ToVectors(f)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}
