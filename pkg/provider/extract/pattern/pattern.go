// Package pattern provides a deterministic, regex-based extract.Provider.
//
// It recognises explicitly spoken references such as "John 3:16",
// "First Corinthians 13 verse 4", and "Song of Solomon chapter 2 verse 1".
// It never calls out over the network, which makes it the default extractor
// when no LLM is configured and a useful baseline in tests.
package pattern

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/versecast/versecast/internal/verse"
	"github.com/versecast/versecast/pkg/provider/extract"
)

// refPattern matches "<book> <chapter>:<verse>" and the spoken variants
// "<book> chapter <chapter> verse <verse>" and "<book> <chapter> verse
// <verse>". The book group allows an ordinal prefix and up to three words to
// cover titles like "Song of Solomon".
var refPattern = regexp.MustCompile(
	`(?i)\b((?:(?:1|2|3|first|second|third)\s+)?[a-z]+(?:\s+of\s+[a-z]+|\s+[a-z]+)?)` +
		`[\s,]+(?:chapter\s+)?(\d{1,3})(?:\s*:\s*|\s+verse\s+|\s*,\s*verse\s+)(\d{1,3})\b`)

// Compile-time assertion that Provider implements extract.Provider.
var _ extract.Provider = (*Provider)(nil)

// Provider implements extract.Provider with pure pattern matching. The zero
// value is ready to use.
type Provider struct{}

// New returns a new pattern Provider.
func New() *Provider {
	return &Provider{}
}

// Extract implements extract.Provider. Candidate matches are scanned left to
// right; the first whose book name canonicalises to a known book wins.
// Extract never returns an error.
func (p *Provider) Extract(_ context.Context, text string) (*verse.Reference, error) {
	for _, m := range refPattern.FindAllStringSubmatch(text, -1) {
		book, ok := verse.NormalizeBook(m[1])
		if !ok {
			// The match may have swallowed a leading word ("loved the
			// world John 3:16" matches "world John"); retry with the last
			// word of the book group.
			if fields := strings.Fields(m[1]); len(fields) > 1 {
				book, ok = verse.NormalizeBook(fields[len(fields)-1])
			}
			if !ok {
				continue
			}
		}
		chapter, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		verseNum, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		ref := &verse.Reference{Book: book, Chapter: chapter, Verse: verseNum}
		if ref.Valid() {
			return ref, nil
		}
	}
	return nil, nil
}
