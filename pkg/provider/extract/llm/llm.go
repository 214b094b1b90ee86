// Package llm provides an extract.Provider backed by an LLM via
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// The model is prompted to answer with exactly one "Book Chapter:Verse"
// reference or the word "null"; the response is parsed and validated before
// it reaches the pipeline, so a rambling model can at worst produce a
// no-reference result.
//
// Usage:
//
//	p, err := llm.New("gemini", "gemini-2.0-flash", anyllmlib.WithAPIKey("..."))
//	ref, err := p.Extract(ctx, "for God so loved the world, John 3:16")
package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/versecast/versecast/internal/verse"
	"github.com/versecast/versecast/pkg/provider/extract"
)

// systemPrompt instructs the model to act as a pure extraction function.
// The "null" sentinel keeps the no-reference case unambiguous.
const systemPrompt = `You extract Bible verse references from transcribed speech.
Respond with exactly one reference in the form "Book Chapter:Verse" (e.g. "John 3:16").
If the text contains no Bible verse reference, respond with the single word: null
Do not add any other words, punctuation, or explanation.`

// maxResponseTokens caps the completion; a valid answer is a few tokens.
const maxResponseTokens = 32

// responsePattern parses the model's "Book Chapter:Verse" answer. The book
// group tolerates ordinal prefixes and multi-word titles.
var responsePattern = regexp.MustCompile(`^([0-9]?\s*[A-Za-z][A-Za-z .]*?)\s+(\d{1,3})\s*:\s*(\d{1,3})$`)

// Compile-time assertion that Provider implements extract.Provider.
var _ extract.Provider = (*Provider)(nil)

// Provider implements extract.Provider by asking an LLM.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
// model is the specific model to use (e.g., "gemini-2.0-flash", "gpt-4o-mini").
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend falls
// back to the relevant environment variable (OPENAI_API_KEY, GEMINI_API_KEY,
// and so on).
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("llm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// Extract implements extract.Provider.
func (p *Provider) Extract(ctx context.Context, text string) (*verse.Reference, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	temperature := 0.0
	maxTokens := maxResponseTokens
	resp, err := p.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: text},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: empty choices in response")
	}

	ref, ok := ParseReference(resp.Choices[0].Message.ContentString())
	if !ok {
		return nil, nil
	}
	return ref, nil
}

// ParseReference parses a "Book Chapter:Verse" answer into a Reference.
// It tolerates surrounding whitespace, quotes, and a trailing period, and
// treats "null"/"none" (any case) as the no-reference sentinel. Returns
// (nil, false) when the answer does not denote a reference.
func ParseReference(answer string) (*verse.Reference, bool) {
	answer = strings.TrimSpace(answer)
	answer = strings.Trim(answer, "\"'`")
	answer = strings.TrimSuffix(answer, ".")
	answer = strings.TrimSpace(answer)

	switch strings.ToLower(answer) {
	case "", "null", "none":
		return nil, false
	}

	m := responsePattern.FindStringSubmatch(answer)
	if m == nil {
		return nil, false
	}
	chapter, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, false
	}
	verseNum, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, false
	}

	ref := &verse.Reference{
		Book:    strings.TrimSpace(m[1]),
		Chapter: chapter,
		Verse:   verseNum,
	}
	if !ref.Valid() {
		return nil, false
	}
	return ref, true
}

// createBackend creates the underlying any-llm-go provider for the given
// provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}
