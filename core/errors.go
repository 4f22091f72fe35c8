package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a stage failure.
type ErrorKind string

const (
	TranscriptionError ErrorKind = "transcription"
	DiarizationError   ErrorKind = "diarization"
	MergeError         ErrorKind = "merge"
	RetrievalError     ErrorKind = "retrieval"
	SummarizationError ErrorKind = "summarization"
	ExtractionError    ErrorKind = "extraction"
	PersistenceError   ErrorKind = "persistence"
)

var kindPrefix = map[ErrorKind]string{
	TranscriptionError: "Transcription failed",
	DiarizationError:   "Diarization failed",
	MergeError:         "Merge failed",
	RetrievalError:     "Context retrieval failed",
	SummarizationError: "Summarization failed",
	ExtractionError:    "Action items extraction failed",
	PersistenceError:   "Vector storage failed",
}

// Recovered reports whether the pipeline treats this kind as a soft failure.
func (k ErrorKind) Recovered() bool {
	switch k {
	case RetrievalError, SummarizationError, ExtractionError:
		return true
	}
	return false
}

// StageError wraps a collaborator failure with the kind of stage it broke.
type StageError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

// NewStageError wraps err; a nil err yields nil.
func NewStageError(kind ErrorKind, stage string, err error) *StageError {
	if err == nil {
		return nil
	}
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

func (e *StageError) Error() string {
	prefix, ok := kindPrefix[e.Kind]
	if !ok {
		prefix = fmt.Sprintf("%s failed", e.Stage)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from an error chain.
func KindOf(err error) (ErrorKind, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// ErrInvalidSegment is returned when a transcript segment has unusable bounds.
var ErrInvalidSegment = errors.New("invalid transcript segment")
