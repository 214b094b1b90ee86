// Package stream implements the per-connection audio pipeline: a thread-safe
// fragment buffer that accumulates raw audio between ticks, and a coordinator
// that flushes the buffer on a fixed interval and runs each batch through
// transcription, reference extraction, and verse lookup.
package stream

import (
	"log/slog"
	"sync"
	"time"
)

// OverflowPolicy selects what happens when an Append would push the buffer
// past its byte cap.
type OverflowPolicy string

const (
	// OverflowDropOldest evicts the oldest fragments until the new one fits.
	// Recent speech is what the next cycle should hear, so this is the
	// default.
	OverflowDropOldest OverflowPolicy = "drop_oldest"

	// OverflowDropNewest rejects the incoming fragment and keeps the buffer
	// as it is.
	OverflowDropNewest OverflowPolicy = "drop_newest"
)

// Valid reports whether p is a known policy.
func (p OverflowPolicy) Valid() bool {
	return p == OverflowDropOldest || p == OverflowDropNewest
}

// DefaultMaxBufferBytes caps a connection's buffered audio at 1 MiB, roughly
// 30 seconds of compressed speech. A single missed tick never comes close;
// the cap only matters when a provider stalls for many cycles in a row.
const DefaultMaxBufferBytes = 1 << 20

// fragment is one audio message as received from the client.
type fragment struct {
	data       []byte
	receivedAt time.Time
}

// Buffer accumulates audio fragments between flush cycles. Append never
// blocks on pipeline work: it takes a short mutex hold and returns, so the
// connection read loop keeps pace with the client regardless of how slow the
// providers are. Drain atomically takes everything accumulated so far and
// resets the buffer; audio arriving during a drain lands in the next batch.
//
// All methods are safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	frags    []fragment
	size     int
	maxBytes int
	policy   OverflowPolicy
	log      *slog.Logger
}

// NewBuffer creates a buffer capped at maxBytes with the given overflow
// policy. maxBytes <= 0 selects [DefaultMaxBufferBytes]; an unknown policy
// falls back to [OverflowDropOldest]. log may be nil.
func NewBuffer(maxBytes int, policy OverflowPolicy, log *slog.Logger) *Buffer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBufferBytes
	}
	if !policy.Valid() {
		policy = OverflowDropOldest
	}
	if log == nil {
		log = slog.Default()
	}
	return &Buffer{
		maxBytes: maxBytes,
		policy:   policy,
		log:      log,
	}
}

// Append stores a copy of data as one fragment. Oversized appends are
// resolved per the configured overflow policy and logged at warn level.
// Append returns the number of bytes dropped to make room (0 when nothing
// was evicted; len(data) when the fragment itself was rejected).
//
// Empty fragments are ignored.
func (b *Buffer) Append(data []byte) (dropped int) {
	if len(data) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(data) > b.maxBytes {
		// The fragment alone exceeds the cap; no eviction can make it fit.
		b.log.Warn("audio fragment larger than buffer cap, dropping",
			"fragment_bytes", len(data),
			"max_bytes", b.maxBytes,
		)
		return len(data)
	}

	if b.size+len(data) > b.maxBytes {
		switch b.policy {
		case OverflowDropNewest:
			b.log.Warn("audio buffer full, dropping incoming fragment",
				"fragment_bytes", len(data),
				"buffered_bytes", b.size,
				"policy", string(b.policy),
			)
			return len(data)
		default: // OverflowDropOldest
			evicted := 0
			for b.size+len(data) > b.maxBytes && len(b.frags) > 0 {
				evicted += len(b.frags[0].data)
				b.size -= len(b.frags[0].data)
				b.frags[0].data = nil
				b.frags = b.frags[1:]
			}
			b.log.Warn("audio buffer full, evicted oldest fragments",
				"evicted_bytes", evicted,
				"fragment_bytes", len(data),
				"policy", string(b.policy),
			)
			dropped = evicted
		}
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	b.frags = append(b.frags, fragment{data: cp, receivedAt: time.Now()})
	b.size += len(cp)
	return dropped
}

// Drain atomically takes all buffered audio, concatenated in arrival order,
// and resets the buffer. Returns ok=false when the buffer was empty.
func (b *Buffer) Drain() (data []byte, ok bool) {
	b.mu.Lock()
	frags := b.frags
	size := b.size
	b.frags = nil
	b.size = 0
	b.mu.Unlock()

	if size == 0 {
		return nil, false
	}

	data = make([]byte, 0, size)
	for _, f := range frags {
		data = append(data, f.data...)
	}
	return data, true
}

// Policy returns the buffer's overflow policy.
func (b *Buffer) Policy() OverflowPolicy {
	return b.policy
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Fragments returns the number of buffered fragments. Intended for testing
// and debugging.
func (b *Buffer) Fragments() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frags)
}
