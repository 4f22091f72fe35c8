package processors

import (
	"fmt"
	"math"
	"strings"

	"meetingSummarize/core"
)

// MergeTranscripts attributes every transcript segment to the diarization turn
// covering the largest share of it. Output has exactly one entry per input
// segment, in input order.
func MergeTranscripts(segments []core.TranscriptSegment, turns []core.DiarizationTurn) []core.AttributedSegment {
	out := make([]core.AttributedSegment, 0, len(segments))
	for _, seg := range segments {
		speaker := core.UnknownSpeaker
		if len(turns) > 0 {
			speaker = bestSpeaker(seg, turns)
		}
		out = append(out, core.AttributedSegment{
			Speaker:    speaker,
			Start:      seg.Start,
			End:        seg.End,
			Text:       seg.Text,
			Confidence: seg.Confidence,
		})
	}
	return out
}

// bestSpeaker keeps the first turn with the strictly greatest overlap ratio.
func bestSpeaker(seg core.TranscriptSegment, turns []core.DiarizationTurn) string {
	best, bestRatio := core.UnknownSpeaker, 0.0
	for _, turn := range turns {
		if r := overlapRatio(seg, turn); r > bestRatio {
			best, bestRatio = turn.Speaker, r
		}
	}
	return best
}

// overlapRatio is the fraction of seg's duration that turn covers; zero-length segments score 0.
func overlapRatio(seg core.TranscriptSegment, turn core.DiarizationTurn) float64 {
	dur := seg.End - seg.Start
	if dur <= 0 {
		return 0
	}
	overlap := math.Max(0, math.Min(seg.End, turn.End)-math.Max(seg.Start, turn.Start))
	return overlap / dur
}

// ValidateSegments rejects segments the merge cannot place in time.
func ValidateSegments(segments []core.TranscriptSegment) error {
	for i, s := range segments {
		switch {
		case math.IsNaN(s.Start) || math.IsNaN(s.End) || math.IsInf(s.Start, 0) || math.IsInf(s.End, 0):
			return fmt.Errorf("%w: segment %d has non-finite bounds", core.ErrInvalidSegment, i)
		case s.End < s.Start:
			return fmt.Errorf("%w: segment %d ends before it starts (%.3f < %.3f)", core.ErrInvalidSegment, i, s.End, s.Start)
		}
	}
	return nil
}

// FormatTranscript renders segments one per line as "[12.3s] speaker: text".
func FormatTranscript(segments []core.AttributedSegment) string {
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		speaker := s.Speaker
		if speaker == "" {
			speaker = core.UnknownSpeaker
		}
		lines = append(lines, fmt.Sprintf("[%.1fs] %s: %s", s.Start, speaker, s.Text))
	}
	return strings.Join(lines, "\n")
}

// FormatContext renders retrieved snippets for a prompt.
func FormatContext(snippets []core.ContextSnippet) string {
	if len(snippets) == 0 {
		return "No historical context available."
	}
	lines := []string{"Historical context from previous meetings:"}
	for _, c := range snippets {
		speaker := c.Speaker
		if speaker == "" {
			speaker = core.UnknownSpeaker
		}
		lines = append(lines, fmt.Sprintf("[Meeting %s, Relevance: %.2f] %s: %s", c.SourceMeetingID, c.Score, speaker, c.Text))
	}
	return strings.Join(lines, "\n")
}

const (
	contextQuerySegments = 10
	contextQueryMaxChars = 500
)

// BuildContextQuery joins the text of the opening segments into a retrieval query.
func BuildContextQuery(segments []core.AttributedSegment) string {
	n := min(len(segments), contextQuerySegments)
	parts := make([]string, 0, n)
	for _, s := range segments[:n] {
		parts = append(parts, s.Text)
	}
	q := []rune(strings.Join(parts, " "))
	if len(q) > contextQueryMaxChars {
		q = q[:contextQueryMaxChars]
	}
	return string(q)
}
