package processors

import (
	"sort"

	"meetingSummarize/core"
)

const topSegmentsPerMeeting = 3

// AggregateByMeeting groups snippets by source meeting and ranks the groups by
// mean score. Equal scores keep the order in which meetings were first seen.
func AggregateByMeeting(snippets []core.ContextSnippet, limit int) []core.RankedMeeting {
	type group struct {
		id      string
		members []core.ContextSnippet
		total   float64
	}
	var groups []*group
	index := map[string]*group{}
	for _, s := range snippets {
		g, ok := index[s.SourceMeetingID]
		if !ok {
			g = &group{id: s.SourceMeetingID}
			index[s.SourceMeetingID] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, s)
		g.total += s.Score
	}

	ranked := make([]core.RankedMeeting, 0, len(groups))
	for _, g := range groups {
		top := g.members[:min(len(g.members), topSegmentsPerMeeting)]
		ranked = append(ranked, core.RankedMeeting{
			MeetingID:   g.id,
			AvgScore:    g.total / float64(len(g.members)),
			NumSegments: len(g.members),
			TopSegments: append([]core.ContextSnippet(nil), top...),
			Metadata:    g.members[0].Metadata,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].AvgScore > ranked[j].AvgScore })

	if limit >= 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	return ranked
}
