package processors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"meetingSummarize/core"
)

// 摘要提示词, one per detail level
var summaryPrompts = map[core.DetailLevel]string{
	core.DetailBrief: `You are a meeting summarization expert. Summarize the meeting in 2-3 sentences, covering the main topic and the key outcomes.

Meeting transcript:
%s

Historical context:
%s

Brief summary:`,
	core.DetailMedium: `You are a meeting summarization expert. Write a summary of one or two paragraphs that covers:
- Main topics discussed
- Key decisions made
- Important points raised
- Action items or next steps that were mentioned

Meeting transcript:
%s

Historical context:
%s

Medium summary:`,
	core.DetailDetailed: `You are a meeting summarization expert. Write a detailed, comprehensive summary that covers:
- An overview of every topic discussed
- All decisions made, with their rationale
- Discussion points from each participant
- All action items and next steps
- Key quotes or important statements
- Relevant context from previous meetings
- Open questions or concerns

Meeting transcript:
%s

Historical context:
%s

Detailed summary:`,
}

// LLMSummarizer generates one chat completion per requested detail level.
type LLMSummarizer struct {
	cli         *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewLLMSummarizer(cli *openai.Client, model string, maxTokens int, temperature float32) *LLMSummarizer {
	return &LLMSummarizer{cli: cli, model: model, maxTokens: maxTokens, temperature: temperature}
}

// Summarize fails as a whole if any requested level fails.
func (l *LLMSummarizer) Summarize(ctx context.Context, transcript []core.AttributedSegment, snippets []core.ContextSnippet, level core.DetailLevel) (map[core.DetailLevel]string, error) {
	transcriptText := FormatTranscript(transcript)
	contextText := FormatContext(snippets)
	out := make(map[core.DetailLevel]string, 3)
	for _, lv := range level.Levels() {
		tmpl, ok := summaryPrompts[lv]
		if !ok {
			return nil, fmt.Errorf("unsupported detail level %q", lv)
		}
		text, err := l.complete(ctx, fmt.Sprintf(tmpl, transcriptText, contextText))
		if err != nil {
			return nil, fmt.Errorf("%s summary: %w", lv, err)
		}
		out[lv] = text
	}
	return out, nil
}

func (l *LLMSummarizer) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := l.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// MockSummarizer builds summaries from the opening lines of the transcript.
type MockSummarizer struct{}

func (MockSummarizer) Summarize(ctx context.Context, transcript []core.AttributedSegment, snippets []core.ContextSnippet, level core.DetailLevel) (map[core.DetailLevel]string, error) {
	take := map[core.DetailLevel]int{core.DetailBrief: 1, core.DetailMedium: 3, core.DetailDetailed: len(transcript)}
	out := map[core.DetailLevel]string{}
	for _, lv := range level.Levels() {
		n := min(take[lv], len(transcript))
		parts := make([]string, 0, n)
		for _, s := range transcript[:n] {
			parts = append(parts, s.Text)
		}
		if len(parts) == 0 {
			out[lv] = "No discussion was recorded."
			continue
		}
		out[lv] = strings.Join(parts, " ")
	}
	return out, nil
}
