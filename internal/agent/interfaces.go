package agent

import (
	"context"

	"villaops_go_backend/internal/models"
	"villaops_go_backend/internal/stream"
	"villaops_go_backend/internal/tools"
)

// ModelMessage is one entry of the history fed to the language model. Tool
// results are part of the history so the model sees its own observations.
type ModelMessage struct {
	Role      string
	Content   string
	ToolCalls []models.ToolCall
	ToolName  string // set on tool-role messages
}

// Delta is one increment from the model stream: either a text fragment or a
// fully formed tool call. Partial tool-call arguments are never surfaced.
type Delta struct {
	Text string
	Call *models.ToolCall
}

// ModelStream yields deltas until io.EOF.
type ModelStream interface {
	Recv() (Delta, error)
	Close()
}

// ModelClient opens a streaming completion over the supplied history. The
// underlying service is a black box; a fresh stream is opened per round and
// after every resume.
type ModelClient interface {
	ModelName() string
	StartStream(ctx context.Context, history []ModelMessage, defs []tools.Definition) (ModelStream, error)
}

// Emitter is the outbound half of the wire protocol (see internal/stream).
type Emitter interface {
	Emit(event stream.Event) error
}
