// Package verse defines the scripture domain types and the lookup store used
// to resolve extracted references into verse text.
//
// A [Reference] is a structured pointer into the corpus (book, chapter,
// verse). A [Verse] is the resolved content for one reference in one
// translation. The [Store] interface abstracts the backing database so the
// pipeline can be tested without a live PostgreSQL instance.
package verse

import (
	"context"
	"fmt"
)

// Reference identifies a single verse by canonical book name and 1-based
// chapter and verse numbers.
type Reference struct {
	// Book is the canonical book name (e.g., "John", "Song of Solomon").
	// Use [NormalizeBook] to canonicalise free-form extractor output.
	Book string

	// Chapter is the 1-based chapter number.
	Chapter int

	// Verse is the 1-based verse number within the chapter.
	Verse int
}

// String renders the reference in the conventional "Book Chapter:Verse" form.
func (r Reference) String() string {
	return fmt.Sprintf("%s %d:%d", r.Book, r.Chapter, r.Verse)
}

// Valid reports whether the reference has a non-empty book and positive
// chapter and verse numbers. It does not check that the verse exists in the
// corpus; that is the store's job.
func (r Reference) Valid() bool {
	return r.Book != "" && r.Chapter > 0 && r.Verse > 0
}

// Verse is the resolved content for one reference in one translation.
type Verse struct {
	// Reference is the display form, e.g. "John 3:16".
	Reference string `json:"reference"`

	// Version is the translation code, e.g. "NIV" or "AMPC".
	Version string `json:"version"`

	// Text is the verse body.
	Text string `json:"text"`
}

// Store resolves references against a verse corpus.
//
// Implementations must be safe for concurrent use; one store instance is
// shared by every connection session.
type Store interface {
	// Lookup returns the verse matching ref, or (nil, nil) when the corpus
	// has no entry for it. A non-nil error indicates a store failure
	// (connectivity, query error), never a missing verse.
	Lookup(ctx context.Context, ref Reference) (*Verse, error)
}
