// Package openai provides an stt.Provider backed by the OpenAI audio
// transcription API (Whisper).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/versecast/versecast/pkg/provider/stt"
)

const (
	defaultModel    = "whisper-1"
	defaultFilename = "audio.webm"
	defaultMIMEType = "audio/webm"
	defaultLanguage = "en"

	// defaultTemperature keeps decoding near-greedy; higher values make
	// Whisper hallucinate on noisy batch boundaries.
	defaultTemperature = 0.2
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel selects the transcription model (default "whisper-1").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the ISO-639-1 language hint (default "en"). An empty
// string lets the API auto-detect.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithAudioFormat sets the filename and MIME type the audio bytes are
// uploaded under. The API sniffs the container from the filename extension,
// so this must match what the capturing client actually sends.
// Default "audio.webm" / "audio/webm".
func WithAudioFormat(filename, mimeType string) Option {
	return func(p *Provider) {
		p.filename = filename
		p.mimeType = mimeType
	}
}

// WithBaseURL overrides the default OpenAI API base URL. Useful for proxies
// and for pointing tests at an httptest server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout. Default 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// Provider implements stt.Provider using the OpenAI audio transcription API.
type Provider struct {
	client   oai.Client
	model    string
	language string
	filename string
	mimeType string
	baseURL  string
	timeout  time.Duration
}

// New constructs a Provider. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	p := &Provider{
		model:    defaultModel,
		language: defaultLanguage,
		filename: defaultFilename,
		mimeType: defaultMIMEType,
		timeout:  30 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: p.timeout}),
	}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}

	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	params := oai.AudioTranscriptionNewParams{
		File:        oai.File(bytes.NewReader(audio), p.filename, p.mimeType),
		Model:       oai.AudioModel(p.model),
		Temperature: oai.Float(defaultTemperature),
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcription: %w", err)
	}
	return resp.Text, nil
}
