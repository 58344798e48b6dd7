package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies failures surfaced at the service boundary.
type ErrorKind string

const (
	KindAcquisition     ErrorKind = "acquisition_failure"
	KindTranscription   ErrorKind = "transcription_failure"
	KindEmbedding       ErrorKind = "embedding_failure"
	KindIndexNotReady   ErrorKind = "index_not_ready"
	KindIndexWrite      ErrorKind = "index_write_failure"
	KindModelInvocation ErrorKind = "model_invocation_failure"
	KindMalformedInput  ErrorKind = "malformed_input"

	// KindInternal is assigned to anything not classified above.
	KindInternal ErrorKind = "internal"
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error. A nil err yields nil.
func E(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or KindInternal when there is none.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if kind, ok := outermostKind(err); ok {
		return kind
	}
	return KindInternal
}

func outermostKind(err error) (ErrorKind, bool) {
	switch e := err.(type) {
	case nil:
		return "", false
	case *Error:
		return e.Kind, true
	case *IndexWriteError:
		return KindIndexWrite, true
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if kind, ok := outermostKind(inner); ok {
				return kind, true
			}
		}
		return "", false
	}
	return outermostKind(errors.Unwrap(err))
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IndexWriteError reports a partially failed batched insert.
// Batch numbers are 0-based in insertion order.
type IndexWriteError struct {
	Index     string
	Total     int
	Succeeded []int
	Failed    map[int]error
}

func (e *IndexWriteError) Error() string {
	failed := make([]int, 0, len(e.Failed))
	for b := range e.Failed {
		failed = append(failed, b)
	}
	sort.Ints(failed)

	parts := make([]string, 0, len(failed))
	for _, b := range failed {
		parts = append(parts, fmt.Sprintf("batch %d: %v", b, e.Failed[b]))
	}
	return fmt.Sprintf("index %q: %d of %d batches failed (succeeded: %v): %s",
		e.Index, len(failed), e.Total, e.Succeeded, strings.Join(parts, "; "))
}

// FailedBatches returns the failed batch numbers in ascending order.
func (e *IndexWriteError) FailedBatches() []int {
	out := make([]int, 0, len(e.Failed))
	for b := range e.Failed {
		out = append(out, b)
	}
	sort.Ints(out)
	return out
}
