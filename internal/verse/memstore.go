package verse

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory [Store]. It backs tests and lets the server run
// without a database (e.g. demos with a handful of seeded verses).
//
// All methods are safe for concurrent use.
type MemStore struct {
	mu               sync.RWMutex
	verses           map[string][]Verse // key: "book|chapter:verse", values in insertion order
	preferredVersion string
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore. preferredVersion may be empty.
func NewMemStore(preferredVersion string) *MemStore {
	return &MemStore{
		verses:           make(map[string][]Verse),
		preferredVersion: preferredVersion,
	}
}

// Add inserts one verse into the corpus. The book name must be canonical.
func (m *MemStore) Add(book string, chapter, verseNum int, version, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memKey(book, chapter, verseNum)
	m.verses[key] = append(m.verses[key], Verse{
		Reference: fmt.Sprintf("%s %d:%d", book, chapter, verseNum),
		Version:   version,
		Text:      text,
	})
}

// Lookup implements [Store]. Book names are canonicalised via [NormalizeBook]
// and the preferred translation wins when several are present.
func (m *MemStore) Lookup(_ context.Context, ref Reference) (*Verse, error) {
	if !ref.Valid() {
		return nil, nil
	}
	book, ok := NormalizeBook(ref.Book)
	if !ok {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := m.verses[memKey(book, ref.Chapter, ref.Verse)]
	if len(candidates) == 0 {
		return nil, nil
	}
	for i := range candidates {
		if candidates[i].Version == m.preferredVersion {
			v := candidates[i]
			return &v, nil
		}
	}
	v := candidates[0]
	return &v, nil
}

func memKey(book string, chapter, verseNum int) string {
	return fmt.Sprintf("%s|%d:%d", book, chapter, verseNum)
}
