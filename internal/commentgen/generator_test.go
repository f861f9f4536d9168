package commentgen

import (
	"context"
	"strings"
	"testing"

	"github.com/duskpost/poster/internal/model"
)

func TestGrowTemplates(t *testing.T) {
	templates := []string{"nice!", "love it"}

	grown := GrowTemplates(templates, "new one")
	if len(grown) != 3 || grown[2] != "new one" {
		t.Fatalf("GrowTemplates() = %v, want the new text appended", grown)
	}

	grown = GrowTemplates(grown, "nice!")
	if len(grown) != 3 {
		t.Fatalf("GrowTemplates() = %v, want no duplicate appended for existing text", grown)
	}
}

func TestGenerate_NonAI_PicksFromTemplates(t *testing.T) {
	g := New(nil, nil)
	sched := model.Schedule{UseAI: false, CommentTemplates: []string{"only one"}}

	text, templates, err := g.Generate(context.Background(), sched, "vid1")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "only one" {
		t.Errorf("Generate() text = %q, want %q", text, "only one")
	}
	if len(templates) != 1 {
		t.Errorf("Generate() templates = %v, want unchanged pool", templates)
	}
}

func TestGenerate_NoTemplatesFallsBack(t *testing.T) {
	g := New(nil, nil)
	sched := model.Schedule{UseAI: false}

	text, _, err := g.Generate(context.Background(), sched, "vid1")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != fallbackComment {
		t.Errorf("Generate() text = %q, want fallback %q", text, fallbackComment)
	}
}

func TestGenerate_UseAIWithoutClientsFallsBackToTemplates(t *testing.T) {
	g := New(nil, nil)
	sched := model.Schedule{UseAI: true, CommentTemplates: []string{"template text"}}

	text, _, err := g.Generate(context.Background(), sched, "vid1")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "template text" {
		t.Errorf("Generate() text = %q, want template fallback when no AI clients are wired", text)
	}
}

func TestSanitize_TrimsAndSkipsEmojis(t *testing.T) {
	got := Sanitize("  hello world  ", false)
	if got != "hello world" {
		t.Errorf("Sanitize() = %q, want trimmed text with no emojis appended", got)
	}
}

func TestSanitize_AppendsEmojis(t *testing.T) {
	got := Sanitize("hello", true)
	if !strings.HasPrefix(got, "hello ") {
		t.Fatalf("Sanitize() = %q, want it to start with the original text", got)
	}
	if got == "hello" {
		t.Error("Sanitize() did not append emojis when includeEmojis = true")
	}
}

func TestRewriteShareTokens(t *testing.T) {
	in := "check this out https://youtu.be/abc123?si=oldtoken123456ab and tell me what you think"
	out := rewriteShareTokens(in)

	if strings.Contains(out, "oldtoken123456ab") {
		t.Errorf("rewriteShareTokens() = %q, still contains the original token", out)
	}
	if !strings.Contains(out, "?si=") {
		t.Errorf("rewriteShareTokens() = %q, want the ?si= marker preserved", out)
	}
	if !strings.HasSuffix(out, "and tell me what you think") {
		t.Errorf("rewriteShareTokens() = %q, want the trailing text preserved", out)
	}
}

func TestRewriteShareTokens_NoToken(t *testing.T) {
	in := "no tracking token here"
	if got := rewriteShareTokens(in); got != in {
		t.Errorf("rewriteShareTokens() = %q, want unchanged text when there is no ?si= marker", got)
	}
}
