package processors

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"

	"meetingSummarize/core"
	"meetingSummarize/logger"
)

// ---------------- OpenAI Whisper ----------------

// OpenAIWhisperASR transcribes through the hosted Whisper endpoint.
type OpenAIWhisperASR struct {
	cli      *openai.Client
	model    string
	language string
}

func NewOpenAIWhisperASR(cli *openai.Client, model, language string) *OpenAIWhisperASR {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIWhisperASR{cli: cli, model: model, language: language}
}

func (w *OpenAIWhisperASR) Transcribe(ctx context.Context, audioRef string) (core.Transcript, error) {
	if _, err := os.Stat(audioRef); err != nil {
		return core.Transcript{}, fmt.Errorf("audio file not accessible: %w", err)
	}
	resp, err := w.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioRef,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: w.language,
	})
	if err != nil {
		return core.Transcript{}, fmt.Errorf("whisper API failed: %w", err)
	}
	t := core.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Segments: make([]core.TranscriptSegment, 0, len(resp.Segments)),
	}
	for _, s := range resp.Segments {
		t.Segments = append(t.Segments, core.TranscriptSegment{
			Start:      s.Start,
			End:        s.End,
			Text:       strings.TrimSpace(s.Text),
			Confidence: logprobConfidence(s.AvgLogprob),
		})
	}
	return t, nil
}

// logprobConfidence maps Whisper's average log probability onto [0,1].
func logprobConfidence(avgLogprob float64) float64 {
	return math.Min(1, math.Max(0, avgLogprob+1))
}

// ---------------- WhisperX (local) ----------------

type (
	whisperxResult struct {
		Language string            `json:"language"`
		Segments []whisperxSegment `json:"segments"`
	}

	whisperxSegment struct {
		Text  string          `json:"text"`
		Start decimal.Decimal `json:"start"`
		End   decimal.Decimal `json:"end"`
		Words []whisperxWord  `json:"words"`
	}

	whisperxWord struct {
		Text  string           `json:"word"`
		Start *decimal.Decimal `json:"start"`
		End   *decimal.Decimal `json:"end"`
		Score *decimal.Decimal `json:"score"`
	}
)

// WhisperXASR runs the whisperx CLI and reads the JSON it writes next to the audio.
type WhisperXASR struct {
	Binary   string
	Model    string
	Language string
}

func (w WhisperXASR) Transcribe(ctx context.Context, audioRef string) (core.Transcript, error) {
	bin := w.Binary
	if bin == "" {
		bin = "whisperx"
	}
	args := []string{audioRef, "--output_dir", filepath.Dir(audioRef), "--output_format", "json"}
	if w.Model != "" {
		args = append(args, "--model", w.Model)
	}
	if w.Language != "" {
		args = append(args, "--language", w.Language)
	}
	cmd := exec.CommandContext(ctx, bin, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return core.Transcript{}, fmt.Errorf("whisperx stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return core.Transcript{}, fmt.Errorf("starting whisperx: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		logLines(ctx, stderr)
	}()
	<-done
	if err := cmd.Wait(); err != nil {
		return core.Transcript{}, fmt.Errorf("transcribing with whisperx: %w", err)
	}

	resultPath := strings.TrimSuffix(audioRef, filepath.Ext(audioRef)) + ".json"
	f, err := os.Open(resultPath)
	if err != nil {
		return core.Transcript{}, fmt.Errorf("opening whisperx transcribe result: %w", err)
	}
	defer f.Close()
	return parseWhisperXResult(f)
}

// logLines logs r line by line and reads it to EOF even when a line overflows
// the scanner, so the writer never blocks on a full pipe.
func logLines(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug(ctx, "whisperx", "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		logger.Warn(ctx, "whisperx output not logged", "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

func parseWhisperXResult(r io.Reader) (core.Transcript, error) {
	var res whisperxResult
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return core.Transcript{}, fmt.Errorf("decoding whisperx json result: %w", err)
	}
	t := core.Transcript{Language: res.Language, Segments: make([]core.TranscriptSegment, 0, len(res.Segments))}
	texts := make([]string, 0, len(res.Segments))
	for _, s := range res.Segments {
		text := strings.TrimSpace(s.Text)
		texts = append(texts, text)
		t.Segments = append(t.Segments, core.TranscriptSegment{
			Start:      s.Start.InexactFloat64(),
			End:        s.End.InexactFloat64(),
			Text:       text,
			Confidence: wordConfidence(s.Words),
		})
	}
	t.Text = strings.Join(texts, " ")
	return t, nil
}

// wordConfidence averages the alignment scores of a segment's words, 1 when none are scored.
func wordConfidence(words []whisperxWord) float64 {
	sum, n := decimal.Zero, 0
	for _, w := range words {
		if w.Score != nil {
			sum = sum.Add(*w.Score)
			n++
		}
	}
	if n == 0 {
		return 1
	}
	avg := sum.Div(decimal.NewFromInt(int64(n))).InexactFloat64()
	return math.Min(1, math.Max(0, avg))
}

// ---------------- Mock ----------------

// MockASR returns a fixed transcript; used when no ASR backend is configured.
type MockASR struct {
	Segments []core.TranscriptSegment
}

func (m MockASR) Transcribe(ctx context.Context, audioRef string) (core.Transcript, error) {
	segs := m.Segments
	if segs == nil {
		segs = []core.TranscriptSegment{
			{Start: 0, End: 4.2, Text: "Welcome everyone, let's review the release plan.", Confidence: 0.95},
			{Start: 4.2, End: 9.8, Text: "The deployment is scheduled for Friday after the final QA pass.", Confidence: 0.92},
			{Start: 9.8, End: 14.5, Text: "Alice will update the runbook before Thursday.", Confidence: 0.9},
		}
	}
	texts := make([]string, len(segs))
	for i, s := range segs {
		texts[i] = s.Text
	}
	return core.Transcript{Text: strings.Join(texts, " "), Language: "en", Segments: segs}, nil
}
