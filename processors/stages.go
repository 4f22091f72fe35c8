package processors

import (
	"context"
	"errors"
	"time"

	"meetingSummarize/core"
	"meetingSummarize/logger"
)

// Stage names, in canonical execution order.
const (
	StageTranscribe      = "transcribe"
	StageDiarize         = "diarize"
	StageMerge           = "merge"
	StageRetrieveContext = "retrieve_context"
	StageSummarize       = "summarize"
	StageExtractActions  = "extract_actions"
	StagePersist         = "persist"
)

// StageFunc runs one stage against a state and returns the updated copy.
type StageFunc func(ctx context.Context, s core.PipelineState) (core.PipelineState, core.Outcome)

// Stage describes one node of the pipeline graph.
type Stage struct {
	Name string
	// Produces is the state field this stage owns.
	Produces core.Field
	// Requires lists stages whose output this one cannot do without.
	Requires []string
	// Reads lists stages whose output is used when present.
	Reads []string
	Run   StageFunc
}

func (s Stage) dependsOn() []string {
	return append(append([]string(nil), s.Requires...), s.Reads...)
}

// fail records err on the state and classifies it.
func fail(ctx context.Context, s core.PipelineState, kind core.ErrorKind, stage string, err error) (core.PipelineState, core.Outcome) {
	serr := core.NewStageError(kind, stage, err)
	logger.ErrorErr(ctx, "stage failed", err, "stage", stage, "kind", string(kind))
	return s.WithError(serr.Error()), core.Classify(serr)
}

// ---------------- Transcribe ----------------

func TranscribeStage(p core.TranscriptionProvider) Stage {
	return Stage{
		Name:     StageTranscribe,
		Produces: core.FieldTranscript,
		Run: func(ctx context.Context, s core.PipelineState) (core.PipelineState, core.Outcome) {
			logger.Info(ctx, "transcribing audio", "audio_ref", s.AudioRef)
			if p == nil {
				return fail(ctx, s.WithTranscript(core.Transcript{}), core.TranscriptionError, StageTranscribe, errNoProvider)
			}
			t, err := p.Transcribe(ctx, s.AudioRef)
			if err != nil {
				return fail(ctx, s.WithTranscript(core.Transcript{}), core.TranscriptionError, StageTranscribe, err)
			}
			logger.Info(ctx, "transcription complete", "segments", len(t.Segments), "language", t.Language)
			return s.WithTranscript(t).WithStatus(core.StatusTranscribed), core.Success()
		},
	}
}

// ---------------- Diarize ----------------

func DiarizeStage(p core.DiarizationProvider, minSpeakers, maxSpeakers int) Stage {
	return Stage{
		Name:     StageDiarize,
		Produces: core.FieldDiarization,
		Run: func(ctx context.Context, s core.PipelineState) (core.PipelineState, core.Outcome) {
			logger.Info(ctx, "diarizing audio", "audio_ref", s.AudioRef, "min_speakers", minSpeakers, "max_speakers", maxSpeakers)
			if p == nil {
				return fail(ctx, s.WithDiarization(core.Diarization{}), core.DiarizationError, StageDiarize, errNoProvider)
			}
			d, err := p.Diarize(ctx, s.AudioRef, minSpeakers, maxSpeakers)
			if err != nil {
				return fail(ctx, s.WithDiarization(core.Diarization{}), core.DiarizationError, StageDiarize, err)
			}
			logger.Info(ctx, "diarization complete", "speakers", len(d.Speakers), "turns", len(d.Segments))
			return s.WithDiarization(d).WithStatus(core.StatusDiarized), core.Success()
		},
	}
}

// ---------------- Merge ----------------

func MergeStage() Stage {
	return Stage{
		Name:     StageMerge,
		Produces: core.FieldAttributedTranscript,
		Requires: []string{StageTranscribe},
		Reads:    []string{StageDiarize},
		Run: func(ctx context.Context, s core.PipelineState) (core.PipelineState, core.Outcome) {
			if err := ValidateSegments(s.Transcript.Segments); err != nil {
				return fail(ctx, s.WithAttributed(nil), core.MergeError, StageMerge, err)
			}
			merged := MergeTranscripts(s.Transcript.Segments, s.Diarization.Segments)
			logger.Info(ctx, "transcripts merged", "segments", len(merged))
			return s.WithAttributed(merged).WithStatus(core.StatusMerged), core.Success()
		},
	}
}

// ---------------- RetrieveContext ----------------

func RetrieveContextStage(p core.ContextProvider, limit int, threshold float64) Stage {
	return Stage{
		Name:     StageRetrieveContext,
		Produces: core.FieldContext,
		Requires: []string{StageMerge},
		Run: func(ctx context.Context, s core.PipelineState) (core.PipelineState, core.Outcome) {
			if p == nil {
				return fail(ctx, s.WithContext(nil), core.RetrievalError, StageRetrieveContext, errNoProvider)
			}
			query := BuildContextQuery(s.AttributedTranscript)
			logger.Debug(ctx, "retrieving context", "query_chars", len(query), "limit", limit)
			snippets, err := p.RetrieveContext(ctx, query, limit, threshold, s.MeetingID)
			if err != nil {
				return fail(ctx, s.WithContext(nil), core.RetrievalError, StageRetrieveContext, err)
			}
			logger.Info(ctx, "context retrieved", "snippets", len(snippets))
			return s.WithContext(snippets).WithStatus(core.StatusContextRetrieved), core.Success()
		},
	}
}

// ---------------- Summarize ----------------

func SummarizeStage(p core.Summarizer, level core.DetailLevel) Stage {
	return Stage{
		Name:     StageSummarize,
		Produces: core.FieldSummaries,
		Requires: []string{StageMerge},
		Reads:    []string{StageRetrieveContext},
		Run: func(ctx context.Context, s core.PipelineState) (core.PipelineState, core.Outcome) {
			if p == nil {
				return fail(ctx, s.WithSummaries(nil), core.SummarizationError, StageSummarize, errNoProvider)
			}
			summaries, err := p.Summarize(ctx, s.AttributedTranscript, s.Context, level)
			if err != nil {
				return fail(ctx, s.WithSummaries(nil), core.SummarizationError, StageSummarize, err)
			}
			logger.Info(ctx, "summaries generated", "levels", len(summaries))
			return s.WithSummaries(summaries).WithStatus(core.StatusSummarized), core.Success()
		},
	}
}

// ---------------- ExtractActions ----------------

func ExtractActionsStage(p core.ActionItemExtractor) Stage {
	return Stage{
		Name:     StageExtractActions,
		Produces: core.FieldActionItems,
		Requires: []string{StageMerge},
		Run: func(ctx context.Context, s core.PipelineState) (core.PipelineState, core.Outcome) {
			if p == nil {
				return fail(ctx, s.WithActionItems(nil), core.ExtractionError, StageExtractActions, errNoProvider)
			}
			items, err := p.Extract(ctx, s.AttributedTranscript)
			if err != nil {
				return fail(ctx, s.WithActionItems(nil), core.ExtractionError, StageExtractActions, err)
			}
			logger.Info(ctx, "action items extracted", "items", len(items))
			return s.WithActionItems(items).WithStatus(core.StatusActionsExtracted), core.Success()
		},
	}
}

// ---------------- Persist ----------------

func PersistStage(p core.PersistenceStore) Stage {
	return Stage{
		Name:     StagePersist,
		Produces: core.FieldNone,
		Requires: []string{StageMerge},
		Run: func(ctx context.Context, s core.PipelineState) (core.PipelineState, core.Outcome) {
			if p == nil {
				return fail(ctx, s, core.PersistenceError, StagePersist, errNoProvider)
			}
			if err := p.StoreMeeting(ctx, s.MeetingID, s.AttributedTranscript, s.Metadata); err != nil {
				return fail(ctx, s, core.PersistenceError, StagePersist, err)
			}
			logger.Info(ctx, "meeting stored", "segments", len(s.AttributedTranscript))
			return s.WithStatus(core.StatusComplete), core.Success()
		},
	}
}

var errNoProvider = errors.New("no provider configured")

// timed runs a stage and builds its report.
func timed(ctx context.Context, st Stage, s core.PipelineState) (core.PipelineState, core.Outcome, core.StageReport) {
	started := time.Now()
	next, out := st.Run(ctx, s)
	rep := core.StageReport{Name: st.Name, Outcome: out.Kind, Duration: time.Since(started)}
	if out.Err != nil {
		rep.Error = out.Err.Error()
	}
	return next, out, rep
}
