// Package mock provides a scriptable stt.Provider test double.
package mock

import (
	"context"
	"sync"

	"github.com/versecast/versecast/pkg/provider/stt"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider is a scriptable mock. Set TranscribeFunc to control behaviour;
// when nil, Transcribe returns ("", nil). All calls are recorded.
type Provider struct {
	TranscribeFunc func(ctx context.Context, audio []byte) (string, error)

	mu    sync.Mutex
	calls [][]byte
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio []byte) (string, error) {
	p.mu.Lock()
	cp := make([]byte, len(audio))
	copy(cp, audio)
	p.calls = append(p.calls, cp)
	p.mu.Unlock()

	if p.TranscribeFunc != nil {
		return p.TranscribeFunc(ctx, audio)
	}
	return "", nil
}

// Calls returns a copy of all audio batches passed to Transcribe so far.
func (p *Provider) Calls() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Transcribe invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
