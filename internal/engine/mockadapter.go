package engine

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
)

// MockAdapter implements domain.ModelAdapter deterministically: the same
// prompt always produces the same response, with no network calls. It is
// the default adapter, used for local development and for tests that
// exercise retry/circuit-breaker/DLQ behavior without a live model API.
type MockAdapter struct {
	name string
}

// NewMockAdapter constructs a deterministic mock model adapter.
func NewMockAdapter(name string) *MockAdapter {
	if name == "" {
		name = "mock-adapter"
	}
	return &MockAdapter{name: name}
}

// Name implements domain.ModelAdapter.
func (m *MockAdapter) Name() string { return m.name }

// Generate implements domain.ModelAdapter with a deterministic response
// derived from a SHA-1 hash of the prompt, so the same request replayed
// after a retry produces the same text.
func (m *MockAdapter) Generate(ctx context.Context, req domain.AIProcessRequest) (domain.AdapterResponse, error) {
	select {
	case <-ctx.Done():
		return domain.AdapterResponse{}, ctx.Err()
	default:
	}

	seed := hashSeed(req.Prompt)
	text := fmt.Sprintf("[%s] response to %q (seed=%x): %s",
		m.name, truncate(req.Prompt, 60), seed, deterministicBody(req.Prompt, seed))

	return domain.AdapterResponse{
		Text:         text,
		PromptTokens: roughTokenCount(req.Prompt),
		OutputTokens: roughTokenCount(text),
		Confidence:   0.6 + 0.4*(float64(seed%1000)/1000),
	}, nil
}

func hashSeed(s string) uint32 {
	h := sha1.Sum([]byte(s))
	return binary.BigEndian.Uint32(h[:4])
}

// deterministicBody produces prose-shaped filler text whose word count and
// content both depend on seed, so different prompts yield visibly different
// (but reproducible) outputs.
func deterministicBody(prompt string, seed uint32) string {
	words := []string{
		"analysis", "summary", "context", "outcome", "signal", "detail",
		"pattern", "insight", "structure", "result", "trend", "factor",
	}
	n := 3 + int(seed%5)
	x := seed
	var b strings.Builder
	for i := 0; i < n; i++ {
		x = x*1664525 + 1013904223
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(words[x%uint32(len(words))])
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// roughTokenCount is the fallback estimator used when no tokenizer is
// available: about four characters per token, rounded up.
func roughTokenCount(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}
