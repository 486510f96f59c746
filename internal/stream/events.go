// internal/stream/events.go
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"council/internal/council"
)

// WriteEvent encodes one progress event as a server-sent-event frame.
func WriteEvent(w io.Writer, ev council.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

// SetHeaders prepares a response for SSE streaming.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
