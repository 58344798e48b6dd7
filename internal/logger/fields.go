package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldRunID is the pipeline run ID for process-video requests
	FieldRunID = "run_id"

	// FieldQuestionID identifies a single answer_question call
	FieldQuestionID = "question_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldIndex is the similarity index (collection) name
	FieldIndex = "index"

	// FieldStage is the pipeline stage currently executing
	FieldStage = "stage"
)

// Metric fields, used for aggregation and alerting.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldBatch      = "batch"
	FieldStatus     = "status"
	FieldSize       = "size"
)
