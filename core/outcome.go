package core

// OutcomeKind tags how a stage ended.
type OutcomeKind string

const (
	// OutcomeSuccess: the stage produced its payload.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeDegraded: the stage failed but left a usable default payload.
	OutcomeDegraded OutcomeKind = "degraded"
	// OutcomeFatal: the stage failed and downstream data is unusable.
	OutcomeFatal OutcomeKind = "fatal"
	// OutcomeSkipped: the engine did not run the stage.
	OutcomeSkipped OutcomeKind = "skipped"
)

// Outcome is the tagged result of running one stage.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

func Success() Outcome { return Outcome{Kind: OutcomeSuccess} }

func Degraded(err error) Outcome { return Outcome{Kind: OutcomeDegraded, Err: err} }

func Fatal(err error) Outcome { return Outcome{Kind: OutcomeFatal, Err: err} }

func Skipped() Outcome { return Outcome{Kind: OutcomeSkipped} }

// Failed reports whether the stage ran and did not succeed.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeDegraded || o.Kind == OutcomeFatal
}

// Classify maps a stage error onto Degraded or Fatal by its kind.
func Classify(err error) Outcome {
	if err == nil {
		return Success()
	}
	if kind, ok := KindOf(err); ok && (kind.Recovered() || kind == DiarizationError) {
		return Degraded(err)
	}
	return Fatal(err)
}
