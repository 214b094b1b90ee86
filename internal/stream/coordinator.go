package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/versecast/versecast/internal/observe"
	"github.com/versecast/versecast/internal/verse"
	"github.com/versecast/versecast/pkg/provider/extract"
	"github.com/versecast/versecast/pkg/provider/stt"
)

// DefaultFlushInterval is how often a connection's buffered audio is flushed
// into the pipeline. One second balances detection latency against the cost
// and accuracy of transcribing very short snippets.
const DefaultFlushInterval = 1000 * time.Millisecond

// Cycle outcome labels recorded to [observe.Metrics.Cycles].
const (
	outcomeVerse       = "verse"
	outcomeNoSpeech    = "no_speech"
	outcomeNoReference = "no_reference"
	outcomeNoMatch     = "no_match"
	outcomeSkipped     = "skipped"
	outcomeError       = "error"
)

// Config carries the collaborators and tuning knobs for a [Coordinator].
type Config struct {
	// STT transcribes each drained audio batch. Required.
	STT stt.Provider

	// Extractor finds a scripture reference in each transcript. Required.
	Extractor extract.Provider

	// Store resolves references to verse text. Required.
	Store verse.Store

	// Buffer is the connection's audio buffer. When nil a default buffer is
	// created.
	Buffer *Buffer

	// Interval between flush cycles. Zero selects [DefaultFlushInterval].
	Interval time.Duration

	// SingleFlight skips a tick while a previous cycle is still running
	// instead of starting an overlapping one. Off by default: cycles are
	// independent, and a slow transcription must not delay detection of the
	// audio that arrived after it.
	SingleFlight bool

	// Emit delivers a detected verse to the client. Required. Called from
	// cycle goroutines, never after Stop has returned.
	Emit func(ctx context.Context, v *verse.Verse)

	// OnCycleError observes failed cycles. Optional; failures are logged and
	// counted regardless.
	OnCycleError func(err *CycleError)

	// Metrics records stage latencies and cycle outcomes. When nil,
	// [observe.DefaultMetrics] is used.
	Metrics *observe.Metrics

	// Log is the session-scoped logger. When nil, slog.Default() is used.
	Log *slog.Logger
}

// Coordinator drives one connection's detection pipeline. Every interval it
// drains the audio buffer and runs the batch through transcribe, extract, and
// lookup, emitting a verse when all three stages produce a result. Cycles
// whose batch yields no speech, no reference, or no stored verse end silently;
// the client only ever hears about verses.
//
// Each tick runs its cycle in its own goroutine, so a slow provider call
// never delays the drain of audio that arrived after it. Set
// [Config.SingleFlight] to serialise cycles instead.
type Coordinator struct {
	cfg Config
	buf *Buffer

	mu       sync.Mutex
	stopped  bool
	started  bool
	cancel   context.CancelFunc
	inFlight bool

	// wg tracks the ticker goroutine and all cycle goroutines so Stop and
	// tests can synchronise with their completion.
	wg sync.WaitGroup
}

// New creates a Coordinator from cfg. STT, Extractor, Store, and Emit are
// required.
func New(cfg Config) (*Coordinator, error) {
	if cfg.STT == nil {
		return nil, errors.New("stream: Config.STT must not be nil")
	}
	if cfg.Extractor == nil {
		return nil, errors.New("stream: Config.Extractor must not be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("stream: Config.Store must not be nil")
	}
	if cfg.Emit == nil {
		return nil, errors.New("stream: Config.Emit must not be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFlushInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	buf := cfg.Buffer
	if buf == nil {
		buf = NewBuffer(0, OverflowDropOldest, cfg.Log)
	}
	return &Coordinator{cfg: cfg, buf: buf}, nil
}

// Buffer returns the coordinator's audio buffer. The connection read loop
// appends incoming fragments here.
func (c *Coordinator) Buffer() *Buffer {
	return c.buf
}

// Start launches the flush ticker. It returns immediately; cycles run in the
// background until Stop is called or ctx is cancelled. Start must be called
// at most once.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("stream: coordinator already started")
	}
	if c.stopped {
		return errors.New("stream: coordinator already stopped")
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Stop halts the ticker and waits for in-flight cycles to finish. Results
// from cycles still running when Stop is called are discarded: once Stop
// returns, Emit is guaranteed not to be called again. Stop is safe to call
// multiple times and before Start.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// run is the ticker loop. It exits when ctx is cancelled.
func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick dispatches one flush cycle. With SingleFlight enabled, ticks that
// arrive while a cycle is running are counted as skipped and dropped.
func (c *Coordinator) tick(ctx context.Context) {
	if c.cfg.SingleFlight {
		c.mu.Lock()
		if c.inFlight {
			c.mu.Unlock()
			c.cfg.Metrics.RecordCycle(ctx, outcomeSkipped)
			return
		}
		c.inFlight = true
		c.mu.Unlock()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if c.cfg.SingleFlight {
			defer func() {
				c.mu.Lock()
				c.inFlight = false
				c.mu.Unlock()
			}()
		}
		c.runCycle(ctx)
	}()
}

// runCycle drains the buffer and runs one batch through the three pipeline
// stages. An empty buffer, an empty transcript, a transcript without a
// reference, and a reference with no stored verse all end the cycle silently.
func (c *Coordinator) runCycle(ctx context.Context) {
	audio, ok := c.buf.Drain()
	if !ok {
		return
	}

	ctx, span := observe.StartSpan(ctx, "stream.cycle")
	defer span.End()

	m := c.cfg.Metrics
	cycleStart := time.Now()
	defer func() {
		m.CycleDuration.Record(ctx, time.Since(cycleStart).Seconds())
	}()

	// Stage 1: transcribe.
	start := time.Now()
	text, err := c.cfg.STT.Transcribe(ctx, audio)
	m.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.fail(ctx, StageTranscribe, err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		m.RecordCycle(ctx, outcomeNoSpeech)
		return
	}
	c.cfg.Log.Debug("transcribed audio batch",
		"bytes", len(audio),
		"transcript", text,
	)

	// Stage 2: extract.
	start = time.Now()
	ref, err := c.cfg.Extractor.Extract(ctx, text)
	m.ExtractDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.fail(ctx, StageExtract, err)
		return
	}
	if ref == nil {
		m.RecordCycle(ctx, outcomeNoReference)
		return
	}

	// Stage 3: lookup.
	start = time.Now()
	v, err := c.cfg.Store.Lookup(ctx, *ref)
	m.LookupDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.fail(ctx, StageLookup, err)
		return
	}
	if v == nil {
		c.cfg.Log.Debug("reference not found in store", "reference", ref.String())
		m.RecordCycle(ctx, outcomeNoMatch)
		return
	}

	c.deliver(ctx, v)
}

// deliver emits a verse unless the coordinator has been stopped. The stopped
// check and the Emit call share one critical section, so a cycle racing with
// Stop either emits before Stop returns or not at all.
func (c *Coordinator) deliver(ctx context.Context, v *verse.Verse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.cfg.Log.Info("verse detected",
		"reference", v.Reference,
		"version", v.Version,
	)
	c.cfg.Metrics.RecordCycle(ctx, outcomeVerse)
	c.cfg.Metrics.RecordVerseDelivered(ctx, v.Version)
	c.cfg.Emit(ctx, v)
}

// fail logs, counts, and reports a stage failure. The cycle's audio is
// already drained and is not replayed; the next tick starts from whatever
// arrived since.
func (c *Coordinator) fail(ctx context.Context, stage Stage, err error) {
	// Cancellation during shutdown is expected, not a stage failure.
	if errors.Is(err, context.Canceled) {
		return
	}

	cerr := &CycleError{Stage: stage, Err: err}
	c.cfg.Log.Error("flush cycle failed",
		"stage", string(stage),
		"error", err,
	)
	c.cfg.Metrics.RecordCycle(ctx, outcomeError)
	c.cfg.Metrics.RecordStageError(ctx, string(stage))
	if c.cfg.OnCycleError != nil {
		c.cfg.OnCycleError(cerr)
	}
}
