package ws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SSEClient streams log events over a Server-Sent Events response. It
// satisfies Subscriber, so the hub treats SSE and websocket sessions alike.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  bool
	done    chan struct{}
}

// NewSSEClient wraps a flushable response writer as a hub subscriber.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{
		writer:  writer,
		flusher: flusher,
		log:     logger,
		done:    make(chan struct{}),
	}
}

// Send emits one data frame. The first failed write closes the stream.
func (c *SSEClient) Send(payload []byte) error {
	return c.write("data: %s\n\n", payload)
}

// Run blocks until the stream closes or ctx is cancelled, emitting a comment
// frame every heartbeat so proxies do not reap an idle connection.
func (c *SSEClient) Run(ctx context.Context, heartbeat time.Duration) {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(": ping\n\n"); err != nil {
				return
			}
		}
	}
}

// Close marks the stream closed and unblocks Run.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markClosed()
}

func (c *SSEClient) write(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprintf(c.writer, format, args...); err != nil {
		c.markClosed()
		c.log.Warn("sse write failed", "error", err)
		return err
	}
	c.flusher.Flush()
	return nil
}

// markClosed must be called with the mutex held.
func (c *SSEClient) markClosed() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
