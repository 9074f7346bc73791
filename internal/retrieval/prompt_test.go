package retrieval

import (
	"strings"
	"testing"
	"time"

	"github.com/sage0/sage/internal/memory"
)

func TestBuildAnswerPromptHistoryWindow(t *testing.T) {
	history := []Turn{
		{Role: "user", Content: "turn one"},
		{Role: "assistant", Content: "turn two"},
		{Role: "user", Content: "turn three"},
		{Role: "assistant", Content: "turn four"},
		{Role: "user", Content: "turn five"},
	}

	prompt := buildAnswerPrompt("q", nil, nil, history)

	if strings.Contains(prompt, "turn one") || strings.Contains(prompt, "turn two") {
		t.Errorf("prompt includes turns beyond the last %d:\n%s", historyWindow, prompt)
	}
	for _, want := range []string{"user: turn three", "assistant: turn four", "user: turn five"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildAnswerPromptSections(t *testing.T) {
	memories := []memory.Memory{
		{Content: "lives in Taipei", CreatedAt: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)},
	}
	knowledge := []RetrievedItem{
		{ID: "a", Text: "first chunk"},
		{ID: "b", Text: "second chunk"},
	}

	prompt := buildAnswerPrompt("where am I?", memories, knowledge, nil)

	for _, want := range []string{
		"- (2026-01-15) lives in Taipei",
		"[0] first chunk",
		"[1] second chunk",
		"Question: where am I?",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildAnswerPromptEmptyContext(t *testing.T) {
	prompt := buildAnswerPrompt("q", nil, nil, nil)
	if prompt != "Question: q" {
		t.Errorf("prompt = %q, want just the question", prompt)
	}
}

func TestBuildPlanPrompt(t *testing.T) {
	prompt := buildPlanPrompt("how do I deploy?", map[string]string{
		"source": "runbook.md",
		"env":    "prod",
	})

	if !strings.Contains(prompt, "Question: how do I deploy?") {
		t.Errorf("prompt missing question:\n%s", prompt)
	}
	// Context keys render in sorted order for determinism.
	envAt := strings.Index(prompt, "- env: prod")
	srcAt := strings.Index(prompt, "- source: runbook.md")
	if envAt == -1 || srcAt == -1 || envAt > srcAt {
		t.Errorf("context lines wrong or out of order:\n%s", prompt)
	}

	if got := buildPlanPrompt("q", nil); got != "Question: q" {
		t.Errorf("prompt with no context = %q", got)
	}
}
