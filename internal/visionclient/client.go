// Package visionclient wraps providers.LLMClient vision calls with the
// shared rate budget every OCR pipeline stage must pass through. Prompt
// content is never embedded here: every method takes the prompt as an
// opaque string supplied by the caller, since this module carries no
// vision prompt content of its own.
package visionclient

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/jackzampolin/registryctl/internal/metrics"
	"github.com/jackzampolin/registryctl/internal/providers"
	"github.com/jackzampolin/registryctl/internal/ratelimiter"
)

// Client issues rate-limited vision-model calls on behalf of the OCR
// pipeline's line-count, extraction, coherence, and boost stages.
type Client struct {
	registry *providers.Registry
	limiter  *ratelimiter.Limiter
}

// New wraps registry's configured LLM clients with limiter's shared budget.
func New(registry *providers.Registry, limiter *ratelimiter.Limiter) *Client {
	return &Client{registry: registry, limiter: limiter}
}

// estimateTokensForImage is a conservative per-call token estimate used to
// reserve budget before the actual usage is known; providers report actual
// usage afterward and the reservation is trued up via Permit.Release.
const estimateTokensForImage = 1500

var digitsRe = regexp.MustCompile(`\d+`)

// call runs one rate-limited vision chat call against modelName. stage
// labels the pipeline step (line_count, extraction, coherence, boost) for
// whatever metrics.Recorder the caller attached to ctx via
// metrics.WithRecorder; a ctx with no recorder attached records nothing.
func (c *Client) call(ctx context.Context, stage, modelName string, req *providers.ChatRequest) (*providers.ChatResult, error) {
	llm, err := c.registry.GetLLM(modelName)
	if err != nil {
		return nil, fmt.Errorf("visionclient: %w", err)
	}

	permit, err := c.limiter.Acquire(ctx, modelName, estimateTokensForImage)
	if err != nil {
		return nil, fmt.Errorf("visionclient: acquire rate budget: %w", err)
	}

	result, callErr := llm.Chat(ctx, req)

	actual := int64(estimateTokensForImage)
	if result != nil {
		actual = int64(result.TotalTokens)
	}
	if releaseErr := permit.Release(ctx, actual); releaseErr != nil {
		// Budget bookkeeping drift is not fatal to the call itself.
		_ = releaseErr
	}

	if recorder, opts, ok := metrics.FromContext(ctx); ok {
		opts.Stage = stage
		if callErr != nil {
			_, _ = recorder.RecordError(ctx, opts, "", modelName, "call_failed", 0)
		} else {
			_, _ = recorder.RecordLLMCall(ctx, opts, result)
		}
	}

	if callErr != nil {
		return nil, fmt.Errorf("visionclient: chat call to %s: %w", modelName, callErr)
	}
	if !result.Success {
		return nil, fmt.Errorf("visionclient: %s: %s", result.ErrorType, result.ErrorMessage)
	}
	return result, nil
}

// CountLines asks modelName to report the line count of image under prompt,
// and extracts the first integer found in its reply.
func (c *Client) CountLines(ctx context.Context, modelName, prompt string, image []byte) (int, error) {
	result, err := c.call(ctx, "line_count", modelName, &providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt, Images: [][]byte{image}}},
	})
	if err != nil {
		return 0, err
	}

	match := digitsRe.FindString(result.Content)
	if match == "" {
		return 0, fmt.Errorf("visionclient: no line count found in model reply: %q", result.Content)
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("visionclient: parse line count: %w", err)
	}
	return n, nil
}

// ExtractedLine is one parsed inscription line from a windowed extraction
// call.
type ExtractedLine struct {
	Index      int            `json:"index"`
	RawText    string         `json:"raw_text"`
	Structured map[string]any `json:"structured,omitempty"`
	Confidence float64        `json:"confidence"`
}

// ExtractWindow requests the lines in [startLine, endLine] from image under
// prompt, constrained to schema, and returns the parsed lines.
func (c *Client) ExtractWindow(ctx context.Context, modelName, prompt string, image []byte, schema json.RawMessage) ([]ExtractedLine, error) {
	result, err := c.call(ctx, "extraction", modelName, &providers.ChatRequest{
		Messages:       []providers.Message{{Role: "user", Content: prompt, Images: [][]byte{image}}},
		ResponseFormat: &providers.ResponseFormat{Type: "json_schema", JSONSchema: schema},
	})
	if err != nil {
		return nil, err
	}

	raw := result.ParsedJSON
	if len(raw) == 0 {
		raw = json.RawMessage(result.Content)
	}

	var lines []ExtractedLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("visionclient: parse extraction window: %w", err)
	}
	return lines, nil
}

// CoherenceVerdict is the closed set of outcomes a coherence check call may
// return.
type CoherenceVerdict string

const (
	CoherenceComplete      CoherenceVerdict = "complete"
	CoherenceIncomplete    CoherenceVerdict = "incomplete"
	CoherenceOverExtracted CoherenceVerdict = "over_extracted"
	CoherenceUncertain     CoherenceVerdict = "uncertain"
)

// CheckCoherence asks modelName to judge whether a page's extraction looks
// complete, given the page image and prompt (the caller embeds the
// first/last extracted lines into prompt).
func (c *Client) CheckCoherence(ctx context.Context, modelName, prompt string, image []byte) (CoherenceVerdict, error) {
	result, err := c.call(ctx, "coherence", modelName, &providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt, Images: [][]byte{image}}},
	})
	if err != nil {
		return CoherenceUncertain, err
	}

	switch CoherenceVerdict(normalizeVerdict(result.Content)) {
	case CoherenceComplete:
		return CoherenceComplete, nil
	case CoherenceIncomplete:
		return CoherenceIncomplete, nil
	case CoherenceOverExtracted:
		return CoherenceOverExtracted, nil
	default:
		return CoherenceUncertain, nil
	}
}

func normalizeVerdict(s string) string {
	switch {
	case contains(s, "incomplete"):
		return string(CoherenceIncomplete)
	case contains(s, "over"):
		return string(CoherenceOverExtracted)
	case contains(s, "complete"):
		return string(CoherenceComplete)
	default:
		return string(CoherenceUncertain)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := 0; j < len(needle); j++ {
			a, b := haystack[i+j], needle[j]
			if 'A' <= a && a <= 'Z' {
				a += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Boost runs a second-pass normalization call over rawText (party names,
// dates, publication numbers) and returns the boosted text.
func (c *Client) Boost(ctx context.Context, modelName, prompt, rawText string) (string, error) {
	result, err := c.call(ctx, "boost", modelName, &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: rawText},
		},
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}
