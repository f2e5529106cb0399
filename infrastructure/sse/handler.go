package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
)

// Handler streams broker events to the client until it disconnects. A
// comma-separated "types" query parameter narrows the stream.
func Handler(b Broker, log infralogger.Logger, opts ...ClientOption) gin.HandlerFunc {
	if log == nil {
		log = infralogger.NewNop()
	}
	return func(c *gin.Context) {
		clientOpts := opts
		if types := c.Query("types"); types != "" {
			clientOpts = append(slices.Clone(opts), WithEventTypes(strings.Split(types, ",")...))
		}

		events, cleanup := b.Subscribe(c.Request.Context(), clientOpts...)
		defer cleanup()

		if refused(events) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many live connections"})
			return
		}

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		// Streams outlive the server's write timeout.
		_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

		connected := Event{Type: eventTypeConnected, Data: gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)}}
		if err := write(c.Writer, connected); err != nil {
			return
		}

		ticker := time.NewTicker(b.HeartbeatInterval())
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := write(c.Writer, event); err != nil {
					log.Debug("SSE write failed", infralogger.Error(err))
					return
				}
			case <-ticker.C:
				if _, err := io.WriteString(c.Writer, ": heartbeat\n\n"); err != nil {
					return
				}
				c.Writer.Flush()
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}

// refused reports whether Subscribe handed back an already closed channel.
func refused(events <-chan Event) bool {
	select {
	case _, ok := <-events:
		return !ok
	default:
		return false
	}
}

func write(w gin.ResponseWriter, event Event) error {
	if err := encode(w, event); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func encode(w io.Writer, event Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if event.Type != "" {
		if _, err = fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
			return err
		}
	}
	if event.ID != "" {
		if _, err = fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
