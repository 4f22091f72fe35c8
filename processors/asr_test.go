package processors

import (
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"meetingSummarize/core"
)

const whisperxJSON = `{
  "language": "en",
  "segments": [
    {"text": " Good morning. ", "start": 0.031, "end": 2.5,
     "words": [{"word": "Good", "start": 0.031, "end": 0.4, "score": 0.9}, {"word": "morning.", "start": 0.5, "end": 2.5, "score": 0.7}]},
    {"text": "Let's start.", "start": 2.5, "end": 4.25, "words": [{"word": "Let's"}, {"word": "start."}]}
  ]
}`

func TestParseWhisperXResult(t *testing.T) {
	tr, err := parseWhisperXResult(strings.NewReader(whisperxJSON))
	if err != nil {
		t.Fatalf("parseWhisperXResult: %v", err)
	}
	if tr.Language != "en" || tr.Text != "Good morning. Let's start." {
		t.Errorf("transcript = %+v", tr)
	}
	if len(tr.Segments) != 2 {
		t.Fatalf("segments = %d", len(tr.Segments))
	}
	first := tr.Segments[0]
	if first.Start != 0.031 || first.End != 2.5 || first.Text != "Good morning." {
		t.Errorf("first segment = %+v", first)
	}
	if math.Abs(first.Confidence-0.8) > 1e-9 {
		t.Errorf("confidence = %v, want mean word score 0.8", first.Confidence)
	}
	if tr.Segments[1].Confidence != 1 {
		t.Errorf("unscored words confidence = %v, want 1", tr.Segments[1].Confidence)
	}
}

func TestParseWhisperXResultInvalid(t *testing.T) {
	if _, err := parseWhisperXResult(strings.NewReader("{")); err == nil {
		t.Error("expected decode error")
	}
}

func TestLogprobConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 1},
		{-0.25, 0.75},
		{-1, 0},
		{-3, 0},
		{0.5, 1},
	}
	for _, tt := range tests {
		if got := logprobConfidence(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("logprobConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meeting.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenAIWhisperASR(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = io.Copy(io.Discard, f)
		f.Close()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"task": "transcribe", "language": "english", "duration": 4.0,
			"text": " Hello there. General update. ",
			"segments": [
				{"id": 0, "start": 0.0, "end": 1.5, "text": " Hello there.", "avg_logprob": -0.2},
				{"id": 1, "start": 1.5, "end": 4.0, "text": " General update.", "avg_logprob": -1.7}
			]
		}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	asr := NewOpenAIWhisperASR(openai.NewClientWithConfig(cfg), "", "en")

	tr, err := asr.Transcribe(quietContext(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotModel != openai.Whisper1 {
		t.Errorf("model = %q, want default whisper-1", gotModel)
	}
	if tr.Text != "Hello there. General update." || tr.Language != "english" {
		t.Errorf("transcript = %+v", tr)
	}
	want := []core.TranscriptSegment{
		{Start: 0, End: 1.5, Text: "Hello there.", Confidence: 0.8},
		{Start: 1.5, End: 4, Text: "General update.", Confidence: 0},
	}
	if len(tr.Segments) != len(want) {
		t.Fatalf("segments = %+v", tr.Segments)
	}
	for i := range want {
		g := tr.Segments[i]
		if g.Start != want[i].Start || g.End != want[i].End || g.Text != want[i].Text || math.Abs(g.Confidence-want[i].Confidence) > 1e-9 {
			t.Errorf("segment %d = %+v, want %+v", i, g, want[i])
		}
	}
}

func TestOpenAIWhisperASRMissingFile(t *testing.T) {
	asr := NewOpenAIWhisperASR(openai.NewClient("unused"), "", "")
	if _, err := asr.Transcribe(quietContext(), filepath.Join(t.TempDir(), "absent.wav")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func fakeWhisperX(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in for whisperx needs a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "whisperx")
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return script
}

func TestWhisperXASR(t *testing.T) {
	bin := fakeWhisperX(t, `#!/bin/sh
name=$(basename "$1")
name="${name%.*}"
echo "loading model" >&2
cat > "$3/$name.json" <<'EOF'
`+whisperxJSON+`
EOF
`)
	tr, err := WhisperXASR{Binary: bin, Language: "en"}.Transcribe(quietContext(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(tr.Segments) != 2 || tr.Segments[1].Text != "Let's start." {
		t.Errorf("transcript = %+v", tr)
	}
}

func TestWhisperXASRFailure(t *testing.T) {
	bin := fakeWhisperX(t, "#!/bin/sh\necho 'cuda not available' >&2\nexit 3\n")
	if _, err := (WhisperXASR{Binary: bin}).Transcribe(quietContext(), writeAudio(t)); err == nil {
		t.Error("expected error from a failing whisperx run")
	}
}

func TestLogLinesDrainsLongLines(t *testing.T) {
	r := strings.NewReader("loading model\n" + strings.Repeat("x", 100*1024) + "\nprogress 50%\nprogress 100%\n")
	logLines(quietContext(), r)
	if r.Len() != 0 {
		t.Errorf("%d bytes left unread", r.Len())
	}
}

func TestMockASR(t *testing.T) {
	tr, err := MockASR{}.Transcribe(quietContext(), "any")
	if err != nil {
		t.Fatal(err)
	}
	if len(tr.Segments) != 3 || tr.Language != "en" {
		t.Errorf("default mock transcript = %+v", tr)
	}
	custom, _ := MockASR{Segments: []core.TranscriptSegment{{Start: 0, End: 1, Text: "hi"}}}.Transcribe(quietContext(), "any")
	if custom.Text != "hi" {
		t.Errorf("custom text = %q", custom.Text)
	}
}
