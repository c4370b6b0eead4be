// Package stream carries report records over websockets: a client sink that
// streams records to a collector, the collector's ingest handler, and a hub
// that fans records out to live watchers.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/rtcwatch/internal/report"
)

const writeWait = 10 * time.Second

// Sink streams records to a websocket endpoint, one JSON text message each.
type Sink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial connects to url. headers are sent with the upgrade request.
func Dial(ctx context.Context, url string, headers map[string]string) (*Sink, error) {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream: dial %s: %w (HTTP %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("stream: dial %s: %w", url, err)
	}
	return &Sink{conn: conn}, nil
}

// Deliver implements report.Sink.
func (s *Sink) Deliver(_ context.Context, rec report.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return report.ErrSinkClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(rec); err != nil {
		return fmt.Errorf("stream: write: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	err := s.conn.Close()
	s.conn = nil
	return err
}
