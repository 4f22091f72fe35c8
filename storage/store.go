package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"meetingSummarize/core"
	"meetingSummarize/logger"
)

// VectorStore indexes attributed meeting segments for semantic retrieval.
type VectorStore interface {
	// StoreMeeting indexes every non-empty segment of a meeting.
	StoreMeeting(ctx context.Context, meetingID string, segments []core.AttributedSegment, metadata map[string]any) error
	// Search returns at most limit snippets scoring at least threshold, best first.
	Search(ctx context.Context, query string, limit int, threshold float64) ([]core.ContextSnippet, error)
	// DeleteMeeting removes a meeting's segments and reports how many were removed.
	DeleteMeeting(ctx context.Context, meetingID string) (int, error)
	Close() error
}

// Record is one stored segment.
type Record struct {
	MeetingID    string
	SegmentIndex int
	Speaker      string
	Text         string
	Timestamp    float64
	Metadata     map[string]any
}

// BuildRecords turns attributed segments into records, skipping empty text.
// SegmentIndex keeps the position in the original transcript.
func BuildRecords(meetingID string, segments []core.AttributedSegment, metadata map[string]any) []Record {
	records := make([]Record, 0, len(segments))
	for i, s := range segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		speaker := s.Speaker
		if speaker == "" {
			speaker = core.UnknownSpeaker
		}
		records = append(records, Record{
			MeetingID:    meetingID,
			SegmentIndex: i,
			Speaker:      speaker,
			Text:         s.Text,
			Timestamp:    s.Start,
			Metadata:     metadata,
		})
	}
	return records
}

func (r Record) snippet(score float64) core.ContextSnippet {
	return core.ContextSnippet{
		Text:            r.Text,
		Speaker:         r.Speaker,
		SourceMeetingID: r.MeetingID,
		Score:           score,
		Timestamp:       r.Timestamp,
		Metadata:        core.CloneMetadata(r.Metadata),
	}
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

// decodeMetadata never fails a search; a corrupt row is logged and read as empty.
func decodeMetadata(ctx context.Context, b []byte) map[string]any {
	m := map[string]any{}
	if len(b) == 0 {
		return m
	}
	if err := json.Unmarshal(b, &m); err != nil {
		logger.Warn(ctx, "failed to decode segment metadata", "error", err)
		return map[string]any{}
	}
	return m
}

// ---------------- Memory implementation (fallback) ----------------

type MemoryVectorStore struct {
	mu   sync.RWMutex
	docs map[string][]memoryDoc // meetingID -> docs
	// order keeps first-inserted meeting order so equal scores rank stably.
	order []string
}

type memoryDoc struct {
	Record
	embed map[string]float64 // term -> weight
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{docs: map[string][]memoryDoc{}}
}

// StoreMeeting replaces whatever was stored for the meeting before.
func (s *MemoryVectorStore) StoreMeeting(ctx context.Context, meetingID string, segments []core.AttributedSegment, metadata map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	records := BuildRecords(meetingID, segments, core.CloneMetadata(metadata))
	docs := make([]memoryDoc, 0, len(records))
	for _, r := range records {
		docs = append(docs, memoryDoc{Record: r, embed: embedText(r.Text)})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[meetingID]; !ok {
		s.order = append(s.order, meetingID)
	}
	s.docs[meetingID] = docs
	return nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, query string, limit int, threshold float64) ([]core.ContextSnippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qv := embedText(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []core.ContextSnippet
	for _, id := range s.order {
		for _, d := range s.docs[id] {
			if score := cosine(qv, d.embed); score >= threshold && score > 0 {
				hits = append(hits, d.snippet(score))
			}
		}
	}
	return topK(hits, limit), nil
}

func (s *MemoryVectorStore) DeleteMeeting(ctx context.Context, meetingID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.docs[meetingID])
	if _, ok := s.docs[meetingID]; ok {
		delete(s.docs, meetingID)
		for i, id := range s.order {
			if id == meetingID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return n, nil
}

func (s *MemoryVectorStore) Close() error { return nil }

// topK sorts by score descending, keeping insertion order on ties.
func topK(hits []core.ContextSnippet, limit int) []core.ContextSnippet {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	if hits == nil {
		hits = []core.ContextSnippet{}
	}
	return hits
}

// 辅助函数
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '\'' || r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r > 127)
	})
}

// embedText builds an L2-normalized term-frequency vector.
func embedText(text string) map[string]float64 {
	m := map[string]float64{}
	for _, t := range tokenize(text) {
		m[t] += 1
	}
	var sum float64
	for _, v := range m {
		sum += v * v
	}
	if sum == 0 {
		return m
	}
	norm := math.Sqrt(sum)
	for k, v := range m {
		m[k] = v / norm
	}
	return m
}

func cosine(a, b map[string]float64) float64 {
	var dot float64
	for k, va := range a {
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	return dot
}

// denseCosine is the cosine similarity of two embeddings, 0 when either is empty.
func denseCosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
