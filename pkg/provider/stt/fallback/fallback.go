// Package fallback provides an stt.Provider that fails over between two
// transcription backends, e.g. the OpenAI API as primary with a local
// whisper.cpp server as the offline safety net.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/versecast/versecast/pkg/provider/stt"
)

// cooldown is how long the primary is skipped after a failure. Live audio
// ticks once a second; retrying a dead API on every tick just adds a full
// request timeout of latency to each cycle.
const cooldown = 30 * time.Second

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider with automatic failover from a primary to
// a secondary backend. After a primary failure the secondary is used
// directly for a cooldown period before the primary is probed again.
//
// Safe for concurrent use.
type Provider struct {
	primary       stt.Provider
	secondary     stt.Provider
	primaryName   string
	secondaryName string
	log           *slog.Logger

	mu          sync.Mutex
	primaryDown time.Time

	// now is stubbed in tests.
	now func() time.Time
}

// New wires primary and secondary into a failover provider. The names label
// the backends in logs. log may be nil.
func New(primary stt.Provider, primaryName string, secondary stt.Provider, secondaryName string, log *slog.Logger) (*Provider, error) {
	if primary == nil {
		return nil, fmt.Errorf("fallback: primary must not be nil")
	}
	if secondary == nil {
		return nil, fmt.Errorf("fallback: secondary must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		primary:       primary,
		secondary:     secondary,
		primaryName:   primaryName,
		secondaryName: secondaryName,
		log:           log,
		now:           time.Now,
	}, nil
}

// Transcribe implements stt.Provider. The primary result is returned when it
// succeeds; on failure the same audio is retried against the secondary, and
// the primary is skipped until the cooldown elapses. Both failing returns the
// secondary's error.
func (p *Provider) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if p.primaryHealthy() {
		text, err := p.primary.Transcribe(ctx, audio)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", err
		}
		p.markPrimaryDown()
		p.log.Warn("primary stt failed, failing over",
			"primary", p.primaryName,
			"secondary", p.secondaryName,
			"error", err,
		)
	}

	text, err := p.secondary.Transcribe(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("fallback: %s: %w", p.secondaryName, err)
	}
	return text, nil
}

func (p *Provider) primaryHealthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.primaryDown.IsZero() {
		return true
	}
	if p.now().Sub(p.primaryDown) >= cooldown {
		p.primaryDown = time.Time{}
		return true
	}
	return false
}

func (p *Provider) markPrimaryDown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.primaryDown = p.now()
}
