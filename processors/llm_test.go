package processors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"meetingSummarize/core"
)

// fakeOpenAI serves /v1/chat/completions, answering each call with reply(prompt).
type fakeOpenAI struct {
	mu      sync.Mutex
	prompts []string
	formats []string
	reply   func(prompt string) (string, int)
}

func (f *fakeOpenAI) client(t *testing.T) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		prompt := req.Messages[len(req.Messages)-1].Content
		f.mu.Lock()
		f.prompts = append(f.prompts, prompt)
		if req.ResponseFormat != nil {
			f.formats = append(f.formats, string(req.ResponseFormat.Type))
		}
		f.mu.Unlock()

		content, status := f.reply(prompt)
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"` + content + `","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-test",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

var sampleTranscript = []core.AttributedSegment{
	{Speaker: "SPEAKER_00", Start: 0, End: 2, Text: "We agreed to ship on Friday."},
	{Speaker: "SPEAKER_01", Start: 2, End: 4, Text: "I will prepare the release notes."},
}

func TestLLMSummarizerAllLevels(t *testing.T) {
	fake := &fakeOpenAI{reply: func(prompt string) (string, int) {
		switch {
		case strings.Contains(prompt, "Brief summary:"):
			return "  brief text  ", http.StatusOK
		case strings.Contains(prompt, "Medium summary:"):
			return "medium text", http.StatusOK
		default:
			return "detailed text", http.StatusOK
		}
	}}
	s := NewLLMSummarizer(fake.client(t), "gpt-test", 500, 0.3)
	ctxSnips := []core.ContextSnippet{{Text: "Friday was the plan", Speaker: "A", SourceMeetingID: "prev", Score: 0.9}}

	got, err := s.Summarize(quietContext(), sampleTranscript, ctxSnips, core.DetailAll)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	want := map[core.DetailLevel]string{core.DetailBrief: "brief text", core.DetailMedium: "medium text", core.DetailDetailed: "detailed text"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if len(fake.prompts) != 3 {
		t.Fatalf("calls = %d, want 3", len(fake.prompts))
	}
	if !strings.Contains(fake.prompts[0], "[0.0s] SPEAKER_00: We agreed to ship on Friday.") {
		t.Errorf("prompt lacks formatted transcript: %q", fake.prompts[0])
	}
	if !strings.Contains(fake.prompts[0], "[Meeting prev, Relevance: 0.90] A: Friday was the plan") {
		t.Errorf("prompt lacks formatted context: %q", fake.prompts[0])
	}
}

func TestLLMSummarizerSingleLevel(t *testing.T) {
	fake := &fakeOpenAI{reply: func(string) (string, int) { return "ok", http.StatusOK }}
	got, err := NewLLMSummarizer(fake.client(t), "gpt-test", 100, 0).Summarize(quietContext(), sampleTranscript, nil, core.DetailMedium)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[core.DetailMedium] != "ok" {
		t.Errorf("got %v", got)
	}
	if !strings.Contains(fake.prompts[0], "No historical context available.") {
		t.Errorf("empty context not rendered: %q", fake.prompts[0])
	}
}

func TestLLMSummarizerFailsAsAWhole(t *testing.T) {
	fake := &fakeOpenAI{reply: func(prompt string) (string, int) {
		if strings.Contains(prompt, "Medium summary:") {
			return "overloaded", http.StatusInternalServerError
		}
		return "fine", http.StatusOK
	}}
	got, err := NewLLMSummarizer(fake.client(t), "gpt-test", 100, 0).Summarize(quietContext(), sampleTranscript, nil, core.DetailAll)
	if err == nil {
		t.Fatalf("expected error, got %v", got)
	}
	if got != nil {
		t.Errorf("partial summaries returned: %v", got)
	}
}

func TestLLMActionItemExtractor(t *testing.T) {
	fake := &fakeOpenAI{reply: func(string) (string, int) {
		return `{"items":[
			{"description":"Prepare release notes","assignee":"SPEAKER_01","due_date":"null","priority":"HIGH","context":"before Friday"},
			{"description":"  ","assignee":null,"priority":"low"}
		]}`, http.StatusOK
	}}
	items, err := NewLLMActionItemExtractor(fake.client(t), "gpt-test", 0.2).Extract(quietContext(), sampleTranscript)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %+v, want 1", items)
	}
	it := items[0]
	if it.Description != "Prepare release notes" || it.Priority != core.PriorityHigh {
		t.Errorf("item = %+v", it)
	}
	if it.Assignee == nil || *it.Assignee != "SPEAKER_01" {
		t.Errorf("assignee = %v", it.Assignee)
	}
	if it.DueDate != nil {
		t.Errorf("due date = %q, want nil for \"null\"", *it.DueDate)
	}
	if len(fake.formats) != 1 || fake.formats[0] != string(openai.ChatCompletionResponseFormatTypeJSONObject) {
		t.Errorf("response formats = %v", fake.formats)
	}
}

func TestLLMActionItemExtractorBadJSON(t *testing.T) {
	fake := &fakeOpenAI{reply: func(string) (string, int) { return "not json", http.StatusOK }}
	if _, err := NewLLMActionItemExtractor(fake.client(t), "gpt-test", 0.2).Extract(quietContext(), sampleTranscript); err == nil {
		t.Error("expected parse error")
	}
}

func TestParseActionItems(t *testing.T) {
	raw := "```json\n{\"items\":[{\"description\":\"Book the room\",\"assignee\":\"None\",\"due_date\":\"2024-06-01\",\"priority\":\"urgent\",\"context\":\" planning \"}]}\n```"
	items, err := ParseActionItems(raw)
	if err != nil {
		t.Fatalf("ParseActionItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %+v", items)
	}
	it := items[0]
	if it.Assignee != nil {
		t.Errorf("assignee = %q, want nil for None", *it.Assignee)
	}
	if it.DueDate == nil || *it.DueDate != "2024-06-01" {
		t.Errorf("due date = %v", it.DueDate)
	}
	if it.Priority != core.PriorityMedium || it.Context != "planning" {
		t.Errorf("item = %+v", it)
	}

	empty, err := ParseActionItems(`{"items":[]}`)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("empty = %v, %v", empty, err)
	}
}

func TestMockSummarizer(t *testing.T) {
	got, err := MockSummarizer{}.Summarize(quietContext(), sampleTranscript, nil, core.DetailAll)
	if err != nil {
		t.Fatal(err)
	}
	if got[core.DetailBrief] != "We agreed to ship on Friday." {
		t.Errorf("brief = %q", got[core.DetailBrief])
	}
	if got[core.DetailDetailed] != "We agreed to ship on Friday. I will prepare the release notes." {
		t.Errorf("detailed = %q", got[core.DetailDetailed])
	}
	none, _ := MockSummarizer{}.Summarize(quietContext(), nil, nil, core.DetailBrief)
	if none[core.DetailBrief] != "No discussion was recorded." {
		t.Errorf("empty brief = %q", none[core.DetailBrief])
	}
}

func TestMockActionItemExtractor(t *testing.T) {
	items, err := MockActionItemExtractor{}.Extract(quietContext(), sampleTranscript)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Assignee == nil || *items[0].Assignee != "SPEAKER_01" {
		t.Errorf("items = %+v", items)
	}
}
