package processors

import (
	"context"
	"fmt"

	"meetingSummarize/core"
	"meetingSummarize/logger"
)

// SnippetSearcher is the part of storage.VectorStore retrieval needs.
type SnippetSearcher interface {
	Search(ctx context.Context, query string, limit int, threshold float64) ([]core.ContextSnippet, error)
}

const (
	DefaultContextLimit     = 5
	DefaultContextThreshold = 0.7
	relatedThreshold        = 0.6
	relatedFanout           = 10
)

// ContextRetriever implements core.ContextProvider over a vector index.
type ContextRetriever struct {
	index SnippetSearcher
}

func NewContextRetriever(index SnippetSearcher) *ContextRetriever {
	return &ContextRetriever{index: index}
}

// RetrieveContext over-fetches when a meeting is excluded so that dropping its
// own segments still leaves up to limit results.
func (r *ContextRetriever) RetrieveContext(ctx context.Context, query string, limit int, threshold float64, excludeMeetingID string) ([]core.ContextSnippet, error) {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	fetch := limit
	if excludeMeetingID != "" {
		fetch = limit * 2
	}
	hits, err := r.index.Search(ctx, query, fetch, threshold)
	if err != nil {
		return nil, fmt.Errorf("search context: %w", err)
	}
	out := make([]core.ContextSnippet, 0, min(len(hits), limit))
	for _, h := range hits {
		if excludeMeetingID != "" && h.SourceMeetingID == excludeMeetingID {
			continue
		}
		out = append(out, h)
		if len(out) >= limit {
			break
		}
	}
	logger.Debug(ctx, "context search", "hits", len(hits), "kept", len(out), "excluded", excludeMeetingID)
	return out, nil
}

// RelatedMeetings ranks stored meetings by their mean similarity to query.
func (r *ContextRetriever) RelatedMeetings(ctx context.Context, query string, limit int) ([]core.RankedMeeting, error) {
	if limit <= 0 {
		limit = 3
	}
	snippets, err := r.RetrieveContext(ctx, query, limit*relatedFanout, relatedThreshold, "")
	if err != nil {
		return nil, err
	}
	meetings := AggregateByMeeting(snippets, limit)
	logger.Info(ctx, "related meetings found", "meetings", len(meetings))
	return meetings, nil
}
