package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// Emitter delivers one event toward the client. Implementations must preserve
// the order events were produced; no buffering or reordering.
type Emitter interface {
	Emit(event Event) error
}

// SSEEmitter writes each event as an SSE message whose data field is the JSON
// record. Headers go out lazily on the first event so handlers can still
// answer pre-stream failures with a plain non-2xx response. Writes after the
// client disconnects fail so the turn runner can keep persisting without a
// live transport.
type SSEEmitter struct {
	mu      sync.Mutex
	c       *gin.Context
	started bool
	closed  bool
}

func NewSSEEmitter(c *gin.Context) *SSEEmitter {
	return &SSEEmitter{c: c}
}

func (e *SSEEmitter) Emit(event Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return http.ErrAbortHandler
	}

	if !e.started {
		e.c.Writer.Header().Set("Content-Type", "text/event-stream")
		e.c.Writer.Header().Set("Cache-Control", "no-cache")
		e.c.Writer.Header().Set("Connection", "keep-alive")
		e.c.Writer.WriteHeader(http.StatusOK)
		e.started = true
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := e.c.Writer.WriteString("data: " + string(data) + "\n\n"); err != nil {
		e.closed = true
		return err
	}
	e.c.Writer.Flush()
	return nil
}

// Started reports whether any event reached the wire yet.
func (e *SSEEmitter) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Closed reports whether a previous write failed, meaning the client is gone.
func (e *SSEEmitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
