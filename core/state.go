package core

import (
	"maps"
	"slices"
)

// PipelineState is the record one meeting run threads through its stages.
// It is treated as a value: stages never write to a state they were given,
// they return an updated copy built with the With* methods below.
type PipelineState struct {
	MeetingID            string                 `json:"meeting_id"`
	AudioRef             string                 `json:"audio_ref"`
	Transcript           Transcript             `json:"transcript"`
	Diarization          Diarization            `json:"diarization"`
	AttributedTranscript []AttributedSegment    `json:"attributed_transcript"`
	Context              []ContextSnippet       `json:"context"`
	Summaries            map[DetailLevel]string `json:"summaries"`
	ActionItems          []ActionItem           `json:"action_items"`
	Status               Status                 `json:"status"`
	Error                string                 `json:"error,omitempty"`
	Metadata             map[string]any         `json:"metadata"`
	Stages               []StageReport          `json:"stages"`
}

// NewPipelineState builds the initial state of a run with every output at its default.
func NewPipelineState(meetingID, audioRef string, metadata map[string]any) PipelineState {
	return PipelineState{
		MeetingID:            meetingID,
		AudioRef:             audioRef,
		Transcript:           Transcript{Segments: []TranscriptSegment{}},
		Diarization:          Diarization{Speakers: []string{}, Segments: []DiarizationTurn{}},
		AttributedTranscript: []AttributedSegment{},
		Context:              []ContextSnippet{},
		Summaries:            map[DetailLevel]string{},
		ActionItems:          []ActionItem{},
		Status:               StatusPending,
		Metadata:             CloneMetadata(metadata),
		Stages:               []StageReport{},
	}
}

// HasError reports whether any stage recorded a failure.
func (s PipelineState) HasError() bool { return s.Error != "" }

func (s PipelineState) WithTranscript(t Transcript) PipelineState {
	s.Transcript = Transcript{Text: t.Text, Language: t.Language, Segments: cloneOrEmpty(t.Segments)}
	return s
}

func (s PipelineState) WithDiarization(d Diarization) PipelineState {
	s.Diarization = Diarization{Speakers: cloneOrEmpty(d.Speakers), Segments: cloneOrEmpty(d.Segments)}
	return s
}

func (s PipelineState) WithAttributed(segs []AttributedSegment) PipelineState {
	s.AttributedTranscript = cloneOrEmpty(segs)
	return s
}

func (s PipelineState) WithContext(snippets []ContextSnippet) PipelineState {
	out := make([]ContextSnippet, len(snippets))
	for i, c := range snippets {
		c.Metadata = CloneMetadata(c.Metadata)
		out[i] = c
	}
	s.Context = out
	return s
}

func (s PipelineState) WithSummaries(m map[DetailLevel]string) PipelineState {
	s.Summaries = maps.Clone(m)
	if s.Summaries == nil {
		s.Summaries = map[DetailLevel]string{}
	}
	return s
}

func (s PipelineState) WithActionItems(items []ActionItem) PipelineState {
	s.ActionItems = cloneOrEmpty(items)
	return s
}

func (s PipelineState) WithStatus(st Status) PipelineState {
	s.Status = st
	return s
}

// WithError replaces any earlier message; only the latest failure is kept.
func (s PipelineState) WithError(msg string) PipelineState {
	s.Error = msg
	return s
}

// WithReport appends a stage report without sharing the backing array.
func (s PipelineState) WithReport(r StageReport) PipelineState {
	s.Stages = append(slices.Clip(s.Stages), r)
	return s
}

// Field names one stage-owned output of PipelineState.
type Field string

const (
	FieldTranscript           Field = "transcript"
	FieldDiarization          Field = "diarization"
	FieldAttributedTranscript Field = "attributed_transcript"
	FieldContext              Field = "context"
	FieldSummaries            Field = "summaries"
	FieldActionItems          Field = "action_items"
	FieldNone                 Field = ""
)

// Adopt copies one stage-owned field from src, used when folding parallel branches.
func (s PipelineState) Adopt(src PipelineState, f Field) PipelineState {
	switch f {
	case FieldTranscript:
		return s.WithTranscript(src.Transcript)
	case FieldDiarization:
		return s.WithDiarization(src.Diarization)
	case FieldAttributedTranscript:
		return s.WithAttributed(src.AttributedTranscript)
	case FieldContext:
		return s.WithContext(src.Context)
	case FieldSummaries:
		return s.WithSummaries(src.Summaries)
	case FieldActionItems:
		return s.WithActionItems(src.ActionItems)
	}
	return s
}

// CloneMetadata deep-copies nested maps and slices of a free-form mapping.
func CloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMetadata(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

func cloneOrEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return slices.Clone(in)
}
