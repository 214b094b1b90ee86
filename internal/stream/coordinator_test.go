package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/versecast/versecast/internal/observe"
	"github.com/versecast/versecast/internal/verse"
	extractmock "github.com/versecast/versecast/pkg/provider/extract/mock"
	sttmock "github.com/versecast/versecast/pkg/provider/stt/mock"
)

// testMetrics returns an isolated Metrics instance so parallel tests do not
// pollute the global meter provider.
func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// countingStore wraps a verse.Store and counts Lookup calls.
type countingStore struct {
	inner verse.Store
	calls atomic.Int64
}

func (s *countingStore) Lookup(ctx context.Context, ref verse.Reference) (*verse.Verse, error) {
	s.calls.Add(1)
	return s.inner.Lookup(ctx, ref)
}

// emitRecorder collects emitted verses behind a mutex.
type emitRecorder struct {
	mu     sync.Mutex
	verses []*verse.Verse
	notify chan struct{}
}

func newEmitRecorder() *emitRecorder {
	return &emitRecorder{notify: make(chan struct{}, 64)}
}

func (r *emitRecorder) emit(_ context.Context, v *verse.Verse) {
	r.mu.Lock()
	r.verses = append(r.verses, v)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *emitRecorder) all() []*verse.Verse {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*verse.Verse, len(r.verses))
	copy(out, r.verses)
	return out
}

// waitNotify fails the test if no emit arrives within the deadline.
func (r *emitRecorder) waitNotify(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(d):
		t.Fatal("timed out waiting for a verse emit")
	}
}

// john316Store returns a MemStore pre-loaded with John 3:16.
func john316Store() *verse.MemStore {
	s := verse.NewMemStore("NIV")
	s.Add("John", 3, 16, "NIV",
		"For God so loved the world that he gave his one and only Son...")
	return s
}

// waitUntil polls cond until it returns true or the deadline passes.
func waitUntil(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			STT:       &sttmock.Provider{},
			Extractor: &extractmock.Provider{},
			Store:     verse.NewMemStore("NIV"),
			Emit:      func(context.Context, *verse.Verse) {},
			Metrics:   testMetrics(t),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing stt", func(c *Config) { c.STT = nil }},
		{"missing extractor", func(c *Config) { c.Extractor = nil }},
		{"missing store", func(c *Config) { c.Store = nil }},
		{"missing emit", func(c *Config) { c.Emit = nil }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("New accepted an invalid config")
			}
		})
	}

	if _, err := New(valid()); err != nil {
		t.Errorf("New rejected a valid config: %v", err)
	}
}

func TestCoordinator_EmitsVerse(t *testing.T) {
	t.Parallel()

	rec := newEmitRecorder()
	sttP := &sttmock.Provider{
		TranscribeFunc: func(context.Context, []byte) (string, error) {
			return "for God so loved the world, John 3:16", nil
		},
	}
	extractor := &extractmock.Provider{
		ExtractFunc: func(context.Context, string) (*verse.Reference, error) {
			return &verse.Reference{Book: "John", Chapter: 3, Verse: 16}, nil
		},
	}

	c, err := New(Config{
		STT:       sttP,
		Extractor: extractor,
		Store:     john316Store(),
		Interval:  5 * time.Millisecond,
		Emit:      rec.emit,
		Metrics:   testMetrics(t),
		Log:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Buffer().Append([]byte("fake-audio-bytes"))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	rec.waitNotify(t, time.Second)

	verses := rec.all()
	if len(verses) == 0 {
		t.Fatal("no verses emitted")
	}
	v := verses[0]
	if got := v.Reference; got != "John 3:16" {
		t.Errorf("reference = %q, want %q", got, "John 3:16")
	}
	if v.Version != "NIV" {
		t.Errorf("version = %q, want NIV", v.Version)
	}
	if v.Text == "" {
		t.Error("verse text is empty")
	}
}

func TestCoordinator_EmptyBufferSkipsProviders(t *testing.T) {
	t.Parallel()

	sttP := &sttmock.Provider{}
	c, err := New(Config{
		STT:       sttP,
		Extractor: &extractmock.Provider{},
		Store:     verse.NewMemStore("NIV"),
		Interval:  5 * time.Millisecond,
		Emit:      func(context.Context, *verse.Verse) {},
		Metrics:   testMetrics(t),
		Log:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond) // several empty ticks
	c.Stop()

	if got := sttP.CallCount(); got != 0 {
		t.Errorf("Transcribe called %d times on an empty buffer, want 0", got)
	}
}

func TestCoordinator_SilentWhenNoSpeech(t *testing.T) {
	t.Parallel()

	sttP := &sttmock.Provider{
		TranscribeFunc: func(context.Context, []byte) (string, error) {
			return "   ", nil // whitespace-only transcript
		},
	}
	extractor := &extractmock.Provider{}

	c, err := New(Config{
		STT:       sttP,
		Extractor: extractor,
		Store:     verse.NewMemStore("NIV"),
		Interval:  5 * time.Millisecond,
		Emit:      func(context.Context, *verse.Verse) { t.Error("unexpected emit") },
		Metrics:   testMetrics(t),
		Log:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Buffer().Append([]byte("silence"))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return sttP.CallCount() >= 1 })
	c.Stop()

	if got := len(extractor.Calls()); got != 0 {
		t.Errorf("Extract called %d times for empty transcript, want 0", got)
	}
}

func TestCoordinator_SilentWhenNoReference(t *testing.T) {
	t.Parallel()

	extractor := &extractmock.Provider{} // nil ExtractFunc returns (nil, nil)
	store := &countingStore{inner: verse.NewMemStore("NIV")}

	c, err := New(Config{
		STT: &sttmock.Provider{
			TranscribeFunc: func(context.Context, []byte) (string, error) {
				return "and then we sang another song together", nil
			},
		},
		Extractor: extractor,
		Store:     store,
		Interval:  5 * time.Millisecond,
		Emit:      func(context.Context, *verse.Verse) { t.Error("unexpected emit") },
		Metrics:   testMetrics(t),
		Log:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Buffer().Append([]byte("chatter"))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return len(extractor.Calls()) >= 1 })
	c.Stop()

	if got := store.calls.Load(); got != 0 {
		t.Errorf("Lookup called %d times without a reference, want 0", got)
	}
}

func TestCoordinator_SilentWhenNoMatch(t *testing.T) {
	t.Parallel()

	store := &countingStore{inner: verse.NewMemStore("NIV")} // empty store

	c, err := New(Config{
		STT: &sttmock.Provider{
			TranscribeFunc: func(context.Context, []byte) (string, error) {
				return "turn with me to Habakkuk 3:17", nil
			},
		},
		Extractor: &extractmock.Provider{
			ExtractFunc: func(context.Context, string) (*verse.Reference, error) {
				return &verse.Reference{Book: "Habakkuk", Chapter: 3, Verse: 17}, nil
			},
		},
		Store:    store,
		Interval: 5 * time.Millisecond,
		Emit:     func(context.Context, *verse.Verse) { t.Error("unexpected emit") },
		Metrics:  testMetrics(t),
		Log:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Buffer().Append([]byte("audio"))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return store.calls.Load() >= 1 })
	c.Stop()
}

func TestCoordinator_StageFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("backend unavailable")

	tests := []struct {
		name      string
		stt       *sttmock.Provider
		extractor *extractmock.Provider
		store     verse.Store
		wantStage Stage
	}{
		{
			name: "transcribe fails",
			stt: &sttmock.Provider{
				TranscribeFunc: func(context.Context, []byte) (string, error) {
					return "", boom
				},
			},
			extractor: &extractmock.Provider{},
			store:     verse.NewMemStore("NIV"),
			wantStage: StageTranscribe,
		},
		{
			name: "extract fails",
			stt: &sttmock.Provider{
				TranscribeFunc: func(context.Context, []byte) (string, error) {
					return "John 3:16", nil
				},
			},
			extractor: &extractmock.Provider{
				ExtractFunc: func(context.Context, string) (*verse.Reference, error) {
					return nil, boom
				},
			},
			store:     verse.NewMemStore("NIV"),
			wantStage: StageExtract,
		},
		{
			name: "lookup fails",
			stt: &sttmock.Provider{
				TranscribeFunc: func(context.Context, []byte) (string, error) {
					return "John 3:16", nil
				},
			},
			extractor: &extractmock.Provider{
				ExtractFunc: func(context.Context, string) (*verse.Reference, error) {
					return &verse.Reference{Book: "John", Chapter: 3, Verse: 16}, nil
				},
			},
			store: &countingStore{inner: failingStore{err: boom}},
			wantStage: StageLookup,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			errCh := make(chan *CycleError, 8)
			c, err := New(Config{
				STT:       tc.stt,
				Extractor: tc.extractor,
				Store:     tc.store,
				Interval:  5 * time.Millisecond,
				Emit:      func(context.Context, *verse.Verse) { t.Error("unexpected emit") },
				OnCycleError: func(e *CycleError) {
					select {
					case errCh <- e:
					default:
					}
				},
				Metrics: testMetrics(t),
				Log:     discardLogger(),
			})
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			c.Buffer().Append([]byte("audio"))
			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			defer c.Stop()

			select {
			case cerr := <-errCh:
				if cerr.Stage != tc.wantStage {
					t.Errorf("failed stage = %q, want %q", cerr.Stage, tc.wantStage)
				}
				if !errors.Is(cerr, boom) {
					t.Error("CycleError does not unwrap to the underlying error")
				}
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for cycle error")
			}
		})
	}
}

func TestCoordinator_RecoversAfterFailedCycle(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	sttP := &sttmock.Provider{
		TranscribeFunc: func(context.Context, []byte) (string, error) {
			if calls.Add(1) == 1 {
				return "", errors.New("transient failure")
			}
			return "John 3:16", nil
		},
	}
	rec := newEmitRecorder()

	c, err := New(Config{
		STT: sttP,
		Extractor: &extractmock.Provider{
			ExtractFunc: func(context.Context, string) (*verse.Reference, error) {
				return &verse.Reference{Book: "John", Chapter: 3, Verse: 16}, nil
			},
		},
		Store:    john316Store(),
		Interval: 5 * time.Millisecond,
		Emit:     rec.emit,
		Metrics:  testMetrics(t),
		Log:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Buffer().Append([]byte("first batch"))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	// Wait for the failing cycle, then feed a second batch.
	waitUntil(t, time.Second, func() bool { return calls.Load() >= 1 })
	c.Buffer().Append([]byte("second batch"))

	rec.waitNotify(t, time.Second)
	if len(rec.all()) == 0 {
		t.Fatal("no verse emitted after recovery")
	}
}

func TestCoordinator_NoEmitAfterStop(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	sttP := &sttmock.Provider{
		TranscribeFunc: func(ctx context.Context, _ []byte) (string, error) {
			close(started)
			// Hold the cycle open until shutdown cancels the context, then
			// complete successfully so the discard path is what is tested.
			<-ctx.Done()
			return "John 3:16", nil
		},
	}
	var emits atomic.Int64

	c, err := New(Config{
		STT: sttP,
		Extractor: &extractmock.Provider{
			ExtractFunc: func(context.Context, string) (*verse.Reference, error) {
				return &verse.Reference{Book: "John", Chapter: 3, Verse: 16}, nil
			},
		},
		Store:    john316Store(),
		Interval: 5 * time.Millisecond,
		Emit:     func(context.Context, *verse.Verse) { emits.Add(1) },
		Metrics:  testMetrics(t),
		Log:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Buffer().Append([]byte("audio"))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-started
	c.Stop() // waits for the in-flight cycle; its result must be discarded

	if got := emits.Load(); got != 0 {
		t.Errorf("emits after Stop = %d, want 0", got)
	}
}

func TestCoordinator_StopIdempotent(t *testing.T) {
	t.Parallel()

	c, err := New(Config{
		STT:       &sttmock.Provider{},
		Extractor: &extractmock.Provider{},
		Store:     verse.NewMemStore("NIV"),
		Interval:  5 * time.Millisecond,
		Emit:      func(context.Context, *verse.Verse) {},
		Metrics:   testMetrics(t),
		Log:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Stop()
	c.Stop() // must not panic or block
}

func TestCoordinator_StopBeforeStart(t *testing.T) {
	t.Parallel()

	c, err := New(Config{
		STT:       &sttmock.Provider{},
		Extractor: &extractmock.Provider{},
		Store:     verse.NewMemStore("NIV"),
		Emit:      func(context.Context, *verse.Verse) {},
		Metrics:   testMetrics(t),
		Log:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Stop()
	if err := c.Start(context.Background()); err == nil {
		t.Error("Start after Stop succeeded, want error")
	}
}

func TestCoordinator_SingleFlightSkipsOverlappingTicks(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	sttP := &sttmock.Provider{
		TranscribeFunc: func(ctx context.Context, _ []byte) (string, error) {
			select {
			case <-gate:
			case <-ctx.Done():
			}
			return "", nil
		},
	}

	c, err := New(Config{
		STT:          sttP,
		Extractor:    &extractmock.Provider{},
		Store:        verse.NewMemStore("NIV"),
		Interval:     5 * time.Millisecond,
		SingleFlight: true,
		Emit:         func(context.Context, *verse.Verse) {},
		Metrics:      testMetrics(t),
		Log:          discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Buffer().Append([]byte("first"))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return sttP.CallCount() == 1 })

	// Keep feeding audio across several tick intervals; the held cycle must
	// prevent any further Transcribe calls.
	for range 5 {
		c.Buffer().Append([]byte("more"))
		time.Sleep(7 * time.Millisecond)
	}
	if got := sttP.CallCount(); got != 1 {
		t.Errorf("Transcribe calls while single-flight cycle held = %d, want 1", got)
	}

	close(gate)
	waitUntil(t, time.Second, func() bool { return sttP.CallCount() >= 2 })
	c.Stop()
}

func TestCoordinator_OverlappingCyclesByDefault(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	sttP := &sttmock.Provider{
		TranscribeFunc: func(ctx context.Context, _ []byte) (string, error) {
			select {
			case <-gate:
			case <-ctx.Done():
			}
			return "", nil
		},
	}

	c, err := New(Config{
		STT:       sttP,
		Extractor: &extractmock.Provider{},
		Store:     verse.NewMemStore("NIV"),
		Interval:  5 * time.Millisecond,
		Emit:      func(context.Context, *verse.Verse) {},
		Metrics:   testMetrics(t),
		Log:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Buffer().Append([]byte("first"))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return sttP.CallCount() == 1 })

	// A second batch must start its own cycle while the first is held open.
	c.Buffer().Append([]byte("second"))
	waitUntil(t, time.Second, func() bool { return sttP.CallCount() >= 2 })

	close(gate)
	c.Stop()
}

func TestCycleError_Unwrap(t *testing.T) {
	t.Parallel()

	base := errors.New("pg down")
	cerr := &CycleError{Stage: StageLookup, Err: base}

	if !errors.Is(cerr, base) {
		t.Error("errors.Is failed to unwrap CycleError")
	}
	var target *CycleError
	if !errors.As(error(cerr), &target) {
		t.Error("errors.As failed on CycleError")
	}
	if got := cerr.Error(); got == "" {
		t.Error("Error() returned empty string")
	}
}

// failingStore always returns its configured error.
type failingStore struct {
	err error
}

func (s failingStore) Lookup(context.Context, verse.Reference) (*verse.Verse, error) {
	return nil, s.err
}
