package domain

import "time"

// RunStatus represents the status of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Pipeline stages, in execution order.
const (
	StageAcquire    = "acquire"
	StageTranscribe = "transcribe"
	StageVectorize  = "vectorize"
	StageIndex      = "index"
	StageArchive    = "archive"
)

// PipelineRun records one process-video request and how far it got.
type PipelineRun struct {
	ID             string     `gorm:"type:text;primaryKey" json:"id"`
	URL            string     `gorm:"type:text;not null" json:"url"`
	Status         RunStatus  `gorm:"default:pending;index" json:"status"`
	Stage          string     `gorm:"type:text" json:"stage,omitempty"`
	AudioPath      string     `gorm:"type:text" json:"audio_path,omitempty"`
	TranscriptFile string     `gorm:"type:text" json:"transcript_file,omitempty"`
	EmbeddedFile   string     `gorm:"type:text" json:"embedded_file,omitempty"`
	IndexName      string     `gorm:"type:text" json:"index_name,omitempty"`
	EntryCount     int        `gorm:"default:0" json:"entry_count"`
	VectorCount    int        `gorm:"default:0" json:"vector_count"`
	ErrorKind      string     `gorm:"type:text" json:"error_kind,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for PipelineRun.
func (PipelineRun) TableName() string {
	return "pipeline_runs"
}
