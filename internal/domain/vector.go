package domain

import "fmt"

// Metadata payload keys stored alongside every indexed vector.
const (
	MetaVectorID  = "vector_id"
	MetaText      = "text"
	MetaSpeakerID = "speaker_id"
	MetaStartTime = "start_time"
	MetaEndTime   = "end_time"
)

// VectorMetadata is the denormalized copy of a transcript entry kept in the
// index so results can be displayed without a second lookup.
type VectorMetadata struct {
	Text      string  `json:"text"`
	SpeakerID string  `json:"speaker_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// IndexedVector is the index-owned, disposable copy of an embedded entry.
type IndexedVector struct {
	ID       string
	Values   []float32
	Metadata VectorMetadata
}

// EntryVectorID returns the deterministic vector id for the i-th entry.
func EntryVectorID(i int) string {
	return fmt.Sprintf("entry_%d", i)
}

// Match is a single similarity search hit.
type Match struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata VectorMetadata `json:"metadata"`
}

// QueryResult holds matches ordered by score descending.
type QueryResult struct {
	Matches []Match `json:"matches"`
}

// Empty reports whether the query returned no matches.
func (r *QueryResult) Empty() bool {
	return r == nil || len(r.Matches) == 0
}

// IndexState is the readiness state of a similarity index.
type IndexState string

const (
	IndexStateAbsent   IndexState = "absent"
	IndexStateCreating IndexState = "creating"
	IndexStateReady    IndexState = "ready"
	IndexStateClearing IndexState = "clearing"
)

// IndexStats describes a similarity index at a point in time.
type IndexStats struct {
	Name        string     `json:"name"`
	State       IndexState `json:"state"`
	Dimension   int        `json:"dimension"`
	VectorCount uint64     `json:"vector_count"`
}
