package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/optimizer"
)

// DefaultHeartbeat is the keep-alive interval of progress streams. It stays
// well under common proxy idle timeouts.
const DefaultHeartbeat = 15 * time.Second

// SSEWriter writes progress events as Server-Sent Events. Each event is
// flushed as soon as it is written. It is safe for concurrent use.
type SSEWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

var _ optimizer.Emitter = (*SSEWriter)(nil)

// NewSSEWriter wraps w, which must support flushing.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Emit writes ev as "event: {name}\ndata: {json}\n\n". It fails once ctx
// is done so a disconnected client stops the run.
func (s *SSEWriter) Emit(ctx context.Context, ev optimizer.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Name, err)
	}
	s.flusher.Flush()
	return nil
}

// KeepAlive writes an SSE comment line that clients ignore.
func (s *SSEWriter) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// StartHeartbeat sends KeepAlive every interval until ctx is done or the
// returned stop function is called.
func (s *SSEWriter) StartHeartbeat(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.KeepAlive(); err != nil {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// SetSSEHeaders prepares a response for event streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
