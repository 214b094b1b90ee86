package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/versecast/versecast/internal/observe"
	"github.com/versecast/versecast/internal/stream"
	"github.com/versecast/versecast/internal/verse"
)

// versePayload is the JSON envelope pushed to the client when a verse is
// detected. It is the only message type the server sends.
type versePayload struct {
	Type  string      `json:"type"`
	Verse verse.Verse `json:"verse"`
}

// session owns one client connection: the websocket, its audio buffer, and
// the coordinator flushing that buffer. The session ends when the client
// disconnects, the read loop fails, or the server shuts down; teardown always
// runs exactly once and stops the coordinator before the socket closes.
type session struct {
	id    string
	conn  *websocket.Conn
	coord *stream.Coordinator
	log   *slog.Logger

	// writeMu serialises websocket writes; emits come from cycle goroutines.
	writeMu sync.Mutex

	closeOnce sync.Once
}

// newSession builds a session and its pipeline for an accepted websocket.
func (s *Server) newSession(id string, conn *websocket.Conn) (*session, error) {
	log := s.log.With("session", id)

	sess := &session{
		id:   id,
		conn: conn,
		log:  log,
	}

	buf := stream.NewBuffer(s.pipeline.MaxBufferBytes, s.pipeline.OverflowPolicy, log)
	coord, err := stream.New(stream.Config{
		STT:          s.stt,
		Extractor:    s.extractor,
		Store:        s.store,
		Buffer:       buf,
		Interval:     s.pipeline.FlushInterval,
		SingleFlight: s.pipeline.SingleFlight,
		Emit:         sess.sendVerse,
		Metrics:      s.metrics,
		Log:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("server: build pipeline: %w", err)
	}
	sess.coord = coord
	return sess, nil
}

// run starts the pipeline and drives the read loop until the connection ends
// or ctx is cancelled. It always tears the session down before returning.
func (s *session) run(ctx context.Context, m *observe.Metrics) {
	defer s.teardown()

	if err := s.coord.Start(ctx); err != nil {
		s.log.Error("failed to start pipeline", "error", err)
		return
	}

	s.log.Info("session started")
	s.readLoop(ctx, m)
}

// readLoop consumes websocket messages. Binary frames are audio and land in
// the buffer; text frames are ignored, the protocol has no client-to-server
// text messages. Returns when the connection errors or closes.
func (s *session) readLoop(ctx context.Context, m *observe.Metrics) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				s.log.Info("client disconnected")
			case ctx.Err() != nil:
				s.log.Info("session cancelled by server shutdown")
			default:
				s.log.Warn("read error, closing session", "error", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			s.log.Debug("ignoring non-binary message", "type", typ.String())
			continue
		}

		m.AudioBytesReceived.Add(ctx, int64(len(data)))
		if dropped := s.coord.Buffer().Append(data); dropped > 0 {
			m.AudioBytesDropped.Add(ctx, int64(dropped),
				metric.WithAttributes(observe.Attr("policy", string(s.coord.Buffer().Policy()))))
		}
	}
}

// sendVerse pushes a detected verse to the client. It is the coordinator's
// Emit callback, so it runs on cycle goroutines; the write lock keeps frames
// whole. A failed write is logged and otherwise ignored: the read loop will
// observe the broken connection and end the session.
func (s *session) sendVerse(ctx context.Context, v *verse.Verse) {
	payload, err := json.Marshal(versePayload{Type: "verse", Verse: *v})
	if err != nil {
		s.log.Error("failed to encode verse payload", "error", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		s.log.Warn("failed to push verse", "reference", v.Reference, "error", err)
	}
}

// teardown stops the coordinator and closes the socket. Stopping first
// guarantees no verse write races the close; teardown is idempotent.
func (s *session) teardown() {
	s.closeOnce.Do(func() {
		s.coord.Stop()
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
		s.log.Info("session closed")
	})
}
