// Package commentgen produces the text for a single comment: a random
// pick from the schedule's template pool, or (when a schedule has
// UseAI set) a one-shot call to an external LLM seeded with the
// target's title. No teacher package does either of these directly;
// grounded by enrichment from the teacher's pkg/slack and
// pkg/mattermost notifier clients (thin *http.Client JSON-webhook
// wrappers), the closest pattern in the pack to a small outbound HTTP
// integration, plus cenkalti/backoff/v5 for the retry policy already
// used elsewhere in this module.
package commentgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/duskpost/poster/internal/model"
)

const fallbackComment = "Great video, really enjoyed this!"

var emojiSet = []string{"🔥", "👏", "😍", "💯", "🙌", "✨"}

// MetadataClient fetches a video's display title from the upstream
// platform's metadata API.
type MetadataClient interface {
	VideoTitle(ctx context.Context, videoID string) (string, error)
}

// LLMClient prompts an external text model and returns its raw reply.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Generator produces comment text for one target video on one schedule.
type Generator struct {
	Metadata MetadataClient
	LLM      LLMClient
}

func New(metadata MetadataClient, llm LLMClient) *Generator {
	return &Generator{Metadata: metadata, LLM: llm}
}

// GrowTemplates is called by the caller after Generate to persist a
// newly-generated AI comment into the schedule's template pool, so
// repeated runs accumulate a curated set. It appends only if text is
// not already present.
func GrowTemplates(templates []string, text string) []string {
	for _, t := range templates {
		if t == text {
			return templates
		}
	}
	return append(templates, text)
}

// Generate returns the raw (pre-sanitisation) comment body for one
// post, and the possibly-grown template pool to persist back onto the
// schedule.
func (g *Generator) Generate(ctx context.Context, sched model.Schedule, videoID string) (text string, templates []string, err error) {
	templates = sched.CommentTemplates

	if !sched.UseAI || g.Metadata == nil || g.LLM == nil {
		return pickTemplate(templates), templates, nil
	}

	title, err := g.fetchTitle(ctx, videoID)
	if err != nil {
		return pickTemplate(templates), templates, nil
	}

	prompt := fmt.Sprintf("Write one short, enthusiastic, human-sounding comment for a video titled %q.", title)
	reply, err := g.complete(ctx, prompt)
	if err != nil {
		return pickTemplate(templates), templates, nil
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return pickTemplate(templates), templates, nil
	}

	return reply, GrowTemplates(templates, reply), nil
}

func (g *Generator) fetchTitle(ctx context.Context, videoID string) (string, error) {
	op := func() (string, error) {
		tctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return g.Metadata.VideoTitle(tctx, videoID)
	}
	return backoff.Retry(ctx, op, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	op := func() (string, error) {
		tctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return g.LLM.Complete(tctx, prompt)
	}
	return backoff.Retry(ctx, op, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

func pickTemplate(templates []string) string {
	if len(templates) == 0 {
		return fallbackComment
	}
	return templates[rand.Intn(len(templates))]
}

// Sanitize trims the text, optionally appends three random emojis, and
// rewrites any ?si= short-form-URL tracking token to a fresh random one
// so consecutive posts never share a literal duplicate body.
func Sanitize(text string, includeEmojis bool) string {
	text = strings.TrimSpace(text)
	if includeEmojis {
		picked := make([]string, 3)
		for i := range picked {
			picked[i] = emojiSet[rand.Intn(len(emojiSet))]
		}
		text = text + " " + strings.Join(picked, " ")
	}
	return rewriteShareTokens(text)
}

func rewriteShareTokens(text string) string {
	const marker = "?si="
	var b strings.Builder
	rest := text
	for {
		idx := strings.Index(rest, marker)
		if idx == -1 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:idx])
		b.WriteString(marker)
		b.WriteString(randomToken(16))

		after := rest[idx+len(marker):]
		end := strings.IndexAny(after, " \n\t&")
		if end == -1 {
			rest = ""
		} else {
			rest = after[end:]
		}
	}
	return b.String()
}

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

func randomToken(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = tokenAlphabet[rand.Intn(len(tokenAlphabet))]
	}
	return string(buf)
}

// HTTPMetadataClient and HTTPLLMClient are thin JSON-webhook wrappers
// around *http.Client, mirroring pkg/slack and pkg/mattermost's
// notifier client shape.
type HTTPMetadataClient struct {
	Client  *http.Client
	BaseURL string
}

func (c *HTTPMetadataClient) VideoTitle(ctx context.Context, videoID string) (string, error) {
	url := fmt.Sprintf("%s/videos/%s", c.BaseURL, videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata api returned %d", resp.StatusCode)
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Title, nil
}

type HTTPLLMClient struct {
	Client  *http.Client
	BaseURL string
	APIKey  string
}

func (c *HTTPLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/complete", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llm api returned %d: %s", resp.StatusCode, string(b))
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Text, nil
}
