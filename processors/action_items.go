package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"meetingSummarize/core"
)

const actionItemsPrompt = `Analyze the following meeting transcript and extract every action item.

For each action item identify:
- A clear description of what needs to be done
- Who is assigned (if mentioned)
- The due date (if mentioned)
- The priority level (high, medium, low)
- Relevant context from the discussion

Transcript:
%s

Respond with a JSON object of the form
{"items": [{"description": "...", "assignee": "... or null", "due_date": "... or null", "priority": "high|medium|low", "context": "..."}]}`

type actionItemsPayload struct {
	Items []struct {
		Description string  `json:"description"`
		Assignee    *string `json:"assignee"`
		DueDate     *string `json:"due_date"`
		Priority    string  `json:"priority"`
		Context     string  `json:"context"`
	} `json:"items"`
}

// LLMActionItemExtractor asks the model for a JSON list of action items.
type LLMActionItemExtractor struct {
	cli         *openai.Client
	model       string
	temperature float32
}

func NewLLMActionItemExtractor(cli *openai.Client, model string, temperature float32) *LLMActionItemExtractor {
	return &LLMActionItemExtractor{cli: cli, model: model, temperature: temperature}
}

func (e *LLMActionItemExtractor) Extract(ctx context.Context, transcript []core.AttributedSegment) ([]core.ActionItem, error) {
	resp, err := e.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(actionItemsPrompt, FormatTranscript(transcript))},
		},
		Temperature:    e.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	return ParseActionItems(resp.Choices[0].Message.Content)
}

// ParseActionItems decodes {"items":[...]}, tolerating a fenced code block
// around the JSON. Items without a description are dropped.
func ParseActionItems(raw string) ([]core.ActionItem, error) {
	body := strings.TrimSpace(raw)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	var p actionItemsPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("parse action items: %w", err)
	}
	items := make([]core.ActionItem, 0, len(p.Items))
	for _, it := range p.Items {
		desc := strings.TrimSpace(it.Description)
		if desc == "" {
			continue
		}
		items = append(items, core.ActionItem{
			Description: desc,
			Assignee:    nonEmpty(it.Assignee),
			DueDate:     nonEmpty(it.DueDate),
			Priority:    core.NormalizePriority(it.Priority),
			Context:     strings.TrimSpace(it.Context),
		})
	}
	return items, nil
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") || strings.EqualFold(v, "none") {
		return nil
	}
	return &v
}

// MockActionItemExtractor turns sentences containing "will" into medium-priority items.
type MockActionItemExtractor struct{}

func (MockActionItemExtractor) Extract(ctx context.Context, transcript []core.AttributedSegment) ([]core.ActionItem, error) {
	items := []core.ActionItem{}
	for _, s := range transcript {
		if !strings.Contains(strings.ToLower(s.Text), " will ") {
			continue
		}
		var assignee *string
		if s.Speaker != "" && s.Speaker != core.UnknownSpeaker {
			sp := s.Speaker
			assignee = &sp
		}
		items = append(items, core.ActionItem{
			Description: s.Text,
			Assignee:    assignee,
			Priority:    core.PriorityMedium,
			Context:     fmt.Sprintf("said at %.1fs", s.Start),
		})
	}
	return items, nil
}
