// Package extract defines the Provider interface for reference-extraction
// backends.
//
// An extractor reads one transcript and decides whether it contains a
// scripture reference. "No reference present" is the common case and is a
// value, not an error: implementations return (nil, nil) for it and reserve
// errors for backend failures.
package extract

import (
	"context"

	"github.com/versecast/versecast/internal/verse"
)

// Provider is the abstraction over any reference-extraction backend.
//
// Implementations must be safe for concurrent use; one provider instance is
// shared by every connection session.
type Provider interface {
	// Extract returns the first scripture reference found in text, or
	// (nil, nil) when the text contains none. A non-nil error indicates a
	// backend failure (network, auth, malformed response), never the
	// absence of a reference.
	Extract(ctx context.Context, text string) (*verse.Reference, error)
}
