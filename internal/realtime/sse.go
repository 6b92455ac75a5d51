package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ServeStream opens a connection for userID (empty for anonymous share
// viewers) and streams its frames as server-sent events until the client goes
// away or the hub closes. onConnect runs after the "connected" frame is sent.
func (h *Hub) ServeStream(w http.ResponseWriter, r *http.Request, userID string, onConnect func(*Conn)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	conn, err := h.Connect(userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer h.Disconnect(conn.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	hello, _ := json.Marshal(map[string]string{"connectionId": conn.ID})
	if err := writeFrame(w, Frame{Name: "connected", Data: hello}); err != nil {
		return
	}
	flusher.Flush()
	if onConnect != nil {
		onConnect(conn)
	}

	heartbeat := time.NewTicker(h.opts.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done():
			return
		case frame := <-conn.Frames():
			if err := writeFrame(w, frame); err != nil {
				h.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("stream write failed")
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w io.Writer, frame Frame) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Name, frame.Data)
	return err
}
