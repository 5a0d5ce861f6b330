package ws

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("ws: streaming unsupported")

// SSEClient streams hub messages as Server-Sent Events.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	rc      *http.ResponseController
	log     *slog.Logger
	done    chan struct{}
	once    sync.Once
	seq     int
}

// NewSSEClient prepares w for an event stream and writes the response headers.
func NewSSEClient(w http.ResponseWriter, logger *slog.Logger) (*SSEClient, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEClient{
		writer:  w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		log:     logger,
		done:    make(chan struct{}),
	}, nil
}

// Send emits one data event.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed() {
		return io.EOF
	}
	c.deadline()
	c.seq++
	if _, err := fmt.Fprintf(c.writer, "id: %d\ndata: %s\n\n", c.seq, payload); err != nil {
		c.log.Warn("sse send failed", "error", err)
		c.shut()
		return err
	}
	c.flusher.Flush()
	return nil
}

// Heartbeat writes a comment frame so idle proxies keep the stream open.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed() {
		return io.EOF
	}
	c.deadline()
	if _, err := io.WriteString(c.writer, ": ping\n\n"); err != nil {
		c.shut()
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close ends the stream. The HTTP handler returns once Done is closed.
func (c *SSEClient) Close() {
	c.shut()
}

// Finish ends the stream and waits for an in-flight write, so nothing touches
// the response after the handler returns.
func (c *SSEClient) Finish() {
	c.shut()
	c.mu.Lock()
	defer c.mu.Unlock()
}

// deadline bounds the next write. Writers without deadline support are
// left as they are.
func (c *SSEClient) deadline() {
	_ = c.rc.SetWriteDeadline(time.Now().Add(writeWait))
}

// Done is closed when the stream has ended.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}

func (c *SSEClient) shut() {
	c.once.Do(func() { close(c.done) })
}

func (c *SSEClient) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
