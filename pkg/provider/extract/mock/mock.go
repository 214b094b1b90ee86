// Package mock provides a scriptable extract.Provider test double.
package mock

import (
	"context"
	"sync"

	"github.com/versecast/versecast/internal/verse"
	"github.com/versecast/versecast/pkg/provider/extract"
)

// Compile-time assertion that Provider implements extract.Provider.
var _ extract.Provider = (*Provider)(nil)

// Provider is a scriptable mock. Set ExtractFunc to control behaviour; when
// nil, Extract returns (nil, nil). All calls are recorded.
type Provider struct {
	ExtractFunc func(ctx context.Context, text string) (*verse.Reference, error)

	mu    sync.Mutex
	calls []string
}

// Extract implements extract.Provider.
func (p *Provider) Extract(ctx context.Context, text string) (*verse.Reference, error) {
	p.mu.Lock()
	p.calls = append(p.calls, text)
	p.mu.Unlock()

	if p.ExtractFunc != nil {
		return p.ExtractFunc(ctx, text)
	}
	return nil, nil
}

// Calls returns a copy of all transcripts passed to Extract so far.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}
