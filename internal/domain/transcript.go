package domain

// UnknownSpeaker is used when a transcript entry carries no speaker label.
const UnknownSpeaker = "Unknown"

// TranscriptFile is the persisted JSON shape produced by the transcription
// stage and enriched in place by the vectorization stage.
type TranscriptFile struct {
	RequestID          string             `json:"request_id,omitempty"`
	Transcript         string             `json:"transcript,omitempty"`
	LanguageCode       string             `json:"language_code,omitempty"`
	DiarizedTranscript DiarizedTranscript `json:"diarized_transcript"`
}

// DiarizedTranscript holds the speaker-tagged segments.
type DiarizedTranscript struct {
	Entries []TranscriptEntry `json:"entries"`
}

// TranscriptEntry is a single speaker-tagged, timestamped segment.
// Embedding is nil until the vectorization stage has run.
type TranscriptEntry struct {
	Index     int       `json:"-"`
	SpeakerID string    `json:"speaker_id"`
	Text      string    `json:"transcript"`
	StartTime float64   `json:"start_time_seconds"`
	EndTime   float64   `json:"end_time_seconds"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Entries returns the transcript's segments.
func (f *TranscriptFile) Entries() []TranscriptEntry {
	return f.DiarizedTranscript.Entries
}
