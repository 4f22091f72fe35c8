package processors

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"meetingSummarize/core"
)

func seg(start, end float64, text string) core.TranscriptSegment {
	return core.TranscriptSegment{Start: start, End: end, Text: text, Confidence: 0.9}
}

func TestMergeSingleSpeaker(t *testing.T) {
	got := MergeTranscripts(
		[]core.TranscriptSegment{seg(0, 2.5, "Hello")},
		[]core.DiarizationTurn{core.NewDiarizationTurn("SPEAKER_00", 0, 2.5)},
	)
	want := []core.AttributedSegment{{Speaker: "SPEAKER_00", Start: 0, End: 2.5, Text: "Hello", Confidence: 0.9}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merge (-want +got):\n%s", diff)
	}
}

func TestMergeTieGoesToFirstTurn(t *testing.T) {
	got := MergeTranscripts(
		[]core.TranscriptSegment{seg(0, 3.0, "text")},
		[]core.DiarizationTurn{
			core.NewDiarizationTurn("SPEAKER_00", 0, 1.5),
			core.NewDiarizationTurn("SPEAKER_01", 1.5, 3.0),
		},
	)
	if got[0].Speaker != "SPEAKER_00" {
		t.Errorf("speaker = %q, want SPEAKER_00", got[0].Speaker)
	}

	reversed := MergeTranscripts(
		[]core.TranscriptSegment{seg(0, 3.0, "text")},
		[]core.DiarizationTurn{
			core.NewDiarizationTurn("SPEAKER_01", 1.5, 3.0),
			core.NewDiarizationTurn("SPEAKER_00", 0, 1.5),
		},
	)
	if reversed[0].Speaker != "SPEAKER_01" {
		t.Errorf("speaker = %q, want SPEAKER_01 when it is listed first", reversed[0].Speaker)
	}
}

func TestMergeWithoutTurns(t *testing.T) {
	segs := []core.TranscriptSegment{seg(0, 1, "a"), seg(1, 2, "b"), seg(2, 3, "c")}
	for _, turns := range [][]core.DiarizationTurn{nil, {}} {
		got := MergeTranscripts(segs, turns)
		if len(got) != len(segs) {
			t.Fatalf("len = %d, want %d", len(got), len(segs))
		}
		for i, g := range got {
			if g.Speaker != core.UnknownSpeaker {
				t.Errorf("segment %d speaker = %q, want Unknown", i, g.Speaker)
			}
			if g.Text != segs[i].Text {
				t.Errorf("segment %d text = %q, order not preserved", i, g.Text)
			}
		}
	}
}

func TestMergeFullContainment(t *testing.T) {
	turns := []core.DiarizationTurn{
		core.NewDiarizationTurn("A", 0, 1),
		core.NewDiarizationTurn("B", 0.5, 10),
		core.NewDiarizationTurn("C", 9, 20),
	}
	got := MergeTranscripts([]core.TranscriptSegment{seg(2, 8, "inside B")}, turns)
	if got[0].Speaker != "B" {
		t.Errorf("speaker = %q, want B", got[0].Speaker)
	}
}

func TestMergeZeroDurationIsUnknown(t *testing.T) {
	turns := []core.DiarizationTurn{core.NewDiarizationTurn("A", 0, 10)}
	got := MergeTranscripts([]core.TranscriptSegment{seg(5, 5, "blip")}, turns)
	if got[0].Speaker != core.UnknownSpeaker {
		t.Errorf("speaker = %q, want Unknown for a zero-length segment", got[0].Speaker)
	}
}

func TestMergeNoOverlapIsUnknown(t *testing.T) {
	turns := []core.DiarizationTurn{core.NewDiarizationTurn("A", 0, 1)}
	got := MergeTranscripts([]core.TranscriptSegment{seg(5, 6, "late")}, turns)
	if got[0].Speaker != core.UnknownSpeaker {
		t.Errorf("speaker = %q, want Unknown", got[0].Speaker)
	}
}

func TestMergeKeepsLengthAndOrder(t *testing.T) {
	segs := []core.TranscriptSegment{seg(0, 2, "one"), seg(2, 4, "two"), seg(4, 4, "three"), seg(4, 7, "four")}
	turns := []core.DiarizationTurn{
		core.NewDiarizationTurn("A", 0, 3),
		core.NewDiarizationTurn("B", 3, 7),
	}
	got := MergeTranscripts(segs, turns)
	wantSpeakers := []string{"A", "A", core.UnknownSpeaker, "B"}
	if len(got) != len(segs) {
		t.Fatalf("len = %d, want %d", len(got), len(segs))
	}
	for i := range got {
		if got[i].Text != segs[i].Text {
			t.Errorf("segment %d text = %q, want %q", i, got[i].Text, segs[i].Text)
		}
		if got[i].Speaker != wantSpeakers[i] {
			t.Errorf("segment %d speaker = %q, want %q", i, got[i].Speaker, wantSpeakers[i])
		}
	}
}

func TestMergeNegativeStart(t *testing.T) {
	segs := []core.TranscriptSegment{seg(-0.5, 1.5, "lead-in"), seg(1.5, 3, "next")}
	if err := ValidateSegments(segs); err != nil {
		t.Fatalf("ValidateSegments: %v", err)
	}
	got := MergeTranscripts(segs, []core.DiarizationTurn{
		core.NewDiarizationTurn("SPEAKER_00", 0, 1.5),
		core.NewDiarizationTurn("SPEAKER_01", 1.5, 3),
	})
	if len(got) != 2 || got[0].Speaker != "SPEAKER_00" || got[0].Start != -0.5 || got[1].Speaker != "SPEAKER_01" {
		t.Errorf("merge = %+v", got)
	}
}

func TestValidateSegments(t *testing.T) {
	tests := []struct {
		name    string
		segs    []core.TranscriptSegment
		wantErr bool
	}{
		{"empty", nil, false},
		{"ok", []core.TranscriptSegment{seg(0, 1, "a"), seg(1, 1, "b")}, false},
		{"negative start", []core.TranscriptSegment{seg(-1, 1, "a")}, false},
		{"end before start", []core.TranscriptSegment{seg(2, 1, "a")}, true},
		{"nan", []core.TranscriptSegment{seg(math.NaN(), 1, "a")}, true},
		{"inf", []core.TranscriptSegment{seg(0, math.Inf(1), "a")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSegments(tt.segs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, core.ErrInvalidSegment) {
				t.Errorf("error %v does not wrap ErrInvalidSegment", err)
			}
		})
	}
}

func TestFormatTranscript(t *testing.T) {
	got := FormatTranscript([]core.AttributedSegment{
		{Speaker: "SPEAKER_00", Start: 0, Text: "Hello"},
		{Speaker: "", Start: 12.34, Text: "Anyone?"},
	})
	want := "[0.0s] SPEAKER_00: Hello\n[12.3s] Unknown: Anyone?"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatContext(t *testing.T) {
	if got := FormatContext(nil); got != "No historical context available." {
		t.Errorf("empty context = %q", got)
	}
	got := FormatContext([]core.ContextSnippet{{Text: "Budget approved", Speaker: "A", SourceMeetingID: "m0", Score: 0.876}})
	if !strings.Contains(got, "[Meeting m0, Relevance: 0.88] A: Budget approved") {
		t.Errorf("context line missing: %q", got)
	}
}

func TestBuildContextQuery(t *testing.T) {
	var segs []core.AttributedSegment
	for i := 0; i < 12; i++ {
		segs = append(segs, core.AttributedSegment{Text: string(rune('a' + i))})
	}
	if got := BuildContextQuery(segs); got != "a b c d e f g h i j" {
		t.Errorf("query = %q, want the first ten segments", got)
	}
	if got := BuildContextQuery(nil); got != "" {
		t.Errorf("empty transcript query = %q", got)
	}

	long := []core.AttributedSegment{{Text: strings.Repeat("会", 600)}}
	q := BuildContextQuery(long)
	if n := len([]rune(q)); n != 500 {
		t.Errorf("query runes = %d, want 500", n)
	}
}
