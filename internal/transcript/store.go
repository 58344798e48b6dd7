// Package transcript loads, validates and persists diarized transcript files.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/timmy/vidtalker/internal/domain"
)

// wire types keep required fields distinguishable from empty ones
type fileWire struct {
	RequestID          string        `json:"request_id,omitempty"`
	Transcript         string        `json:"transcript,omitempty"`
	LanguageCode       string        `json:"language_code,omitempty"`
	DiarizedTranscript *diarizedWire `json:"diarized_transcript"`
}

type diarizedWire struct {
	Entries []entryWire `json:"entries"`
}

type entryWire struct {
	SpeakerID *string   `json:"speaker_id"`
	Text      *string   `json:"transcript"`
	StartTime float64   `json:"start_time_seconds"`
	EndTime   float64   `json:"end_time_seconds"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Load reads and normalizes a transcript file. Any problem with the file
// is reported as a malformed_input error.
func Load(path string) (*domain.TranscriptFile, error) {
	const op = "transcript.Load"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.E(domain.KindMalformedInput, op, err)
	}
	return Parse(data)
}

// Parse decodes and normalizes transcript JSON.
func Parse(data []byte) (*domain.TranscriptFile, error) {
	const op = "transcript.Parse"

	var wire fileWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, domain.E(domain.KindMalformedInput, op, fmt.Errorf("invalid transcript JSON: %w", err))
	}
	if wire.DiarizedTranscript == nil {
		return nil, domain.Errorf(domain.KindMalformedInput, op, "missing diarized_transcript")
	}

	entries := make([]domain.TranscriptEntry, 0, len(wire.DiarizedTranscript.Entries))
	for i, e := range wire.DiarizedTranscript.Entries {
		if e.Text == nil {
			return nil, domain.Errorf(domain.KindMalformedInput, op, "entry %d: missing transcript field", i)
		}
		if e.EndTime < e.StartTime {
			return nil, domain.Errorf(domain.KindMalformedInput, op,
				"entry %d: end_time_seconds %.3f before start_time_seconds %.3f", i, e.EndTime, e.StartTime)
		}
		speaker := domain.UnknownSpeaker
		if e.SpeakerID != nil && *e.SpeakerID != "" {
			speaker = *e.SpeakerID
		}
		entries = append(entries, domain.TranscriptEntry{
			SpeakerID: speaker,
			Text:      *e.Text,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
			Embedding: e.Embedding,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartTime < entries[j].StartTime
	})
	for i := range entries {
		entries[i].Index = i
	}

	return &domain.TranscriptFile{
		RequestID:          wire.RequestID,
		Transcript:         wire.Transcript,
		LanguageCode:       wire.LanguageCode,
		DiarizedTranscript: domain.DiarizedTranscript{Entries: entries},
	}, nil
}

// Save writes f as indented JSON. The write goes through a temp file in the
// same directory followed by a rename.
func Save(path string, f *domain.TranscriptFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create transcript directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move transcript into place: %w", err)
	}
	return nil
}

// FullText returns the plain transcript text: the top-level transcript
// field when present, otherwise the entry texts joined by spaces.
func FullText(f *domain.TranscriptFile) string {
	if strings.TrimSpace(f.Transcript) != "" {
		return f.Transcript
	}
	parts := make([]string, 0, len(f.Entries()))
	for _, e := range f.Entries() {
		if t := strings.TrimSpace(e.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// ErrNotEmbedded is returned by ToVectors when entries with text exist but
// none carries an embedding.
var ErrNotEmbedded = errors.New("transcript has no embedded entries")

// ToVectors converts embedded entries into index vectors with ids entry_{i}.
// Entries without an embedding are skipped. A transcript whose entries are
// all blank yields no vectors and no error.
func ToVectors(f *domain.TranscriptFile) ([]domain.IndexedVector, error) {
	entries := f.Entries()
	vectors := make([]domain.IndexedVector, 0, len(entries))
	spoken := 0
	for _, e := range entries {
		if strings.TrimSpace(e.Text) != "" {
			spoken++
		}
		if len(e.Embedding) == 0 {
			continue
		}
		vectors = append(vectors, domain.IndexedVector{
			ID:     domain.EntryVectorID(e.Index),
			Values: e.Embedding,
			Metadata: domain.VectorMetadata{
				Text:      e.Text,
				SpeakerID: e.SpeakerID,
				StartTime: e.StartTime,
				EndTime:   e.EndTime,
			},
		})
	}
	if len(vectors) == 0 && spoken > 0 {
		return nil, domain.E(domain.KindMalformedInput, "transcript.ToVectors", ErrNotEmbedded)
	}
	return vectors, nil
}

// EmbeddedPath returns the path the vectorization stage writes to,
// "<name>.embedded.json" next to the source file.
func EmbeddedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".embedded.json"
}
