package core

import "context"

// Collaborators consumed by the pipeline. Implementations live in processors and storage.

type TranscriptionProvider interface {
	Transcribe(ctx context.Context, audioRef string) (Transcript, error)
}

type DiarizationProvider interface {
	Diarize(ctx context.Context, audioRef string, minSpeakers, maxSpeakers int) (Diarization, error)
}

// ContextProvider retrieves snippets from previously stored meetings.
// An empty excludeMeetingID disables exclusion.
type ContextProvider interface {
	RetrieveContext(ctx context.Context, query string, limit int, scoreThreshold float64, excludeMeetingID string) ([]ContextSnippet, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, transcript []AttributedSegment, context []ContextSnippet, level DetailLevel) (map[DetailLevel]string, error)
}

type ActionItemExtractor interface {
	Extract(ctx context.Context, transcript []AttributedSegment) ([]ActionItem, error)
}

type PersistenceStore interface {
	StoreMeeting(ctx context.Context, meetingID string, transcript []AttributedSegment, metadata map[string]any) error
}
