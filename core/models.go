package core

import (
	"fmt"
	"strings"
	"time"
)

// ========== Meeting records ==========

// TranscriptSegment is one timed span of recognized speech.
type TranscriptSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Transcript is the raw output of a TranscriptionProvider.
type Transcript struct {
	Text     string              `json:"text"`
	Language string              `json:"language"`
	Segments []TranscriptSegment `json:"segments"`
}

// DiarizationTurn is a time interval attributed to one speaker label.
type DiarizationTurn struct {
	Speaker  string  `json:"speaker"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// NewDiarizationTurn builds a turn and derives its duration.
func NewDiarizationTurn(speaker string, start, end float64) DiarizationTurn {
	return DiarizationTurn{Speaker: speaker, Start: start, End: end, Duration: end - start}
}

// Diarization is the raw output of a DiarizationProvider.
type Diarization struct {
	Speakers []string          `json:"speakers"`
	Segments []DiarizationTurn `json:"segments"`
}

// UnknownSpeaker labels segments no diarization turn could be matched to.
const UnknownSpeaker = "Unknown"

// AttributedSegment is a transcript segment annotated with its speaker.
type AttributedSegment struct {
	Speaker    string  `json:"speaker"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ContextSnippet is a stored passage from another meeting, scored against a query.
type ContextSnippet struct {
	Text            string         `json:"text"`
	Speaker         string         `json:"speaker"`
	SourceMeetingID string         `json:"meeting_id"`
	Score           float64        `json:"score"`
	Timestamp       float64        `json:"timestamp"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// RankedMeeting groups the snippets retrieved from one source meeting.
type RankedMeeting struct {
	MeetingID   string           `json:"meeting_id"`
	AvgScore    float64          `json:"avg_score"`
	NumSegments int              `json:"num_segments"`
	TopSegments []ContextSnippet `json:"top_segments"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// ========== Action items ==========

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// NormalizePriority maps free-form model output onto a known priority, medium by default.
func NormalizePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// ActionItem is a follow-up task extracted from a meeting.
type ActionItem struct {
	Description string   `json:"description"`
	Assignee    *string  `json:"assignee,omitempty"`
	DueDate     *string  `json:"due_date,omitempty"`
	Priority    Priority `json:"priority"`
	Context     string   `json:"context"`
}

// ========== Detail levels ==========

type DetailLevel string

const (
	DetailBrief    DetailLevel = "brief"
	DetailMedium   DetailLevel = "medium"
	DetailDetailed DetailLevel = "detailed"
	DetailAll      DetailLevel = "all"
)

// ParseDetailLevel validates a detail level name.
func ParseDetailLevel(s string) (DetailLevel, error) {
	switch l := DetailLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case DetailBrief, DetailMedium, DetailDetailed, DetailAll:
		return l, nil
	default:
		return "", fmt.Errorf("unknown detail level %q", s)
	}
}

// Levels expands a detail level into the concrete summaries it asks for.
func (l DetailLevel) Levels() []DetailLevel {
	if l == DetailAll {
		return []DetailLevel{DetailBrief, DetailMedium, DetailDetailed}
	}
	return []DetailLevel{l}
}

// ========== Pipeline status ==========

// Status names the last stage that completed successfully.
type Status string

const (
	StatusPending          Status = "pending"
	StatusTranscribed      Status = "transcribed"
	StatusDiarized         Status = "diarized"
	StatusMerged           Status = "merged"
	StatusContextRetrieved Status = "context_retrieved"
	StatusSummarized       Status = "summarized"
	StatusActionsExtracted Status = "actions_extracted"
	StatusComplete         Status = "complete"
)

// StageReport records how one stage of a run ended.
type StageReport struct {
	Name     string        `json:"name"`
	Outcome  OutcomeKind   `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
