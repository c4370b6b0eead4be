package stream

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ppiankov/rtcwatch/internal/report"
)

// Ingest accepts streamed records and hands each one to a sink.
type Ingest struct {
	sink     report.Sink
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewIngest creates an ingest handler delivering into sink.
func NewIngest(sink report.Sink, log *zap.Logger) *Ingest {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingest{
		sink: sink,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
		},
		log: log.Named("ingest"),
	}
}

// ServeHTTP upgrades the request and reads records until the peer closes.
func (in *Ingest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := in.upgrader.Upgrade(w, r, nil)
	if err != nil {
		in.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				in.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		var rec report.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			in.log.Warn("dropping malformed record", zap.Error(err))
			continue
		}
		if err := in.sink.Deliver(context.WithoutCancel(ctx), rec); err != nil {
			in.log.Error("ingest delivery failed", zap.String("description", rec.Description), zap.Error(err))
		}
	}
}
