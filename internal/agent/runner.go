package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"villaops_go_backend/internal/metrics"
	"villaops_go_backend/internal/models"
	"villaops_go_backend/internal/stream"
	"villaops_go_backend/internal/tools"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CancelledResultText is the tool result recorded when the user declines a
// destructive action. The reconstructor matches on this exact phrasing to
// tell a cancel from an approve, so it must not drift (see internal/chatview).
const CancelledResultText = "Action cancelled by the user. The operation was not performed."

// DefaultMaxRounds bounds the model/tool loop within one turn.
const DefaultMaxRounds = 8

var (
	// ErrTurnInProgress is returned when a turn is already running for the
	// conversation. Turns for one conversation are strictly serialized.
	ErrTurnInProgress = errors.New("a turn is already running for this conversation")

	// ErrNoPendingInterrupt is returned by ResumeTurn when the conversation
	// has no unresolved destructive tool call awaiting a decision.
	ErrNoPendingInterrupt = errors.New("conversation has no pending confirmation")
)

// Decision is the operator's answer to a pending confirmation.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionCancel  Decision = "cancel"
)

// ConversationStore is the slice of the conversation service the runner
// needs. Rows are appended in event order within a turn.
type ConversationStore interface {
	CreateConversation(userID uuid.UUID, firstMessage string) (*models.Conversation, error)
	GetConversationWithMessages(conversationID, userID uuid.UUID) (*models.Conversation, error)
	AppendUserMessage(conversationID uuid.UUID, content string) (*models.Message, error)
	AppendAssistantMessage(conversationID uuid.UUID, content string, calls []models.ToolCall, modelUsed string) (*models.Message, error)
	AppendToolMessage(conversationID uuid.UUID, toolName, result string) (*models.Message, error)
}

// QuotaGate mirrors services.QuotaGate. Admit is checked by the HTTP layer
// before the stream opens; Consume is invoked here, once, at the first token
// or tool call of the turn.
type QuotaGate interface {
	Consume(userID uuid.UUID) error
}

// Publisher mirrors the broker so live listeners (websocket) see the same
// events the SSE stream carries.
type Publisher interface {
	Publish(topic string, msg any)
}

// Runner drives conversational turns: one model/tool loop per turn, with an
// interrupt before destructive tools and resumption from persisted history.
type Runner struct {
	store     ConversationStore
	quota     QuotaGate
	model     ModelClient
	tools     tools.Dispatcher
	publisher Publisher
	maxRounds int
	turnTTL   time.Duration

	// locks serializes turns per conversation id. Entries are kept for the
	// process lifetime: removing one would race a concurrent LoadOrStore and
	// hand two turns separate mutexes for the same conversation. One idle
	// mutex per conversation touched since boot is the accepted cost.
	locks sync.Map // conversation id -> *sync.Mutex
}

func NewRunner(store ConversationStore, quota QuotaGate, model ModelClient, dispatcher tools.Dispatcher, publisher Publisher, turnTTL time.Duration) *Runner {
	return &Runner{
		store:     store,
		quota:     quota,
		model:     model,
		tools:     dispatcher,
		publisher: publisher,
		maxRounds: DefaultMaxRounds,
		turnTTL:   turnTTL,
	}
}

// turn is the working state of one running turn.
type turn struct {
	conversationID uuid.UUID
	userID         uuid.UUID
	history        []ModelMessage
	defs           []tools.Definition
	emitter        Emitter
	clientGone     bool
	charged        bool
}

// StartTurn runs one turn from a user utterance. The conversation is created
// when conversationID is nil. The returned error covers failures before the
// stream produced anything; once events flow, faults surface as error events
// and the method returns nil.
func (r *Runner) StartTurn(ctx context.Context, userID uuid.UUID, conversationID *uuid.UUID, text string, emitter Emitter) error {
	var conv *models.Conversation
	var err error
	if conversationID == nil {
		conv, err = r.store.CreateConversation(userID, text)
		if err != nil {
			return err
		}
		conversationID = &conv.ID
	}

	unlock, err := r.lock(*conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	// History is read under the lock so the model is never seeded from a
	// snapshot a concurrent turn is still appending to.
	if conv == nil {
		conv, err = r.store.GetConversationWithMessages(*conversationID, userID)
		if err != nil {
			return err
		}
	}

	// The turn keeps running for bookkeeping after the client disconnects;
	// already-committed messages are never rolled back.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.turnTTL)
	defer cancel()

	t := &turn{
		conversationID: conv.ID,
		userID:         userID,
		history:        historyFor(conv.Messages),
		emitter:        emitter,
	}

	if _, err := r.store.AppendUserMessage(conv.ID, text); err != nil {
		return err
	}
	t.history = append(t.history, ModelMessage{Role: models.RoleUser, Content: text})

	metrics.TurnsStarted.Inc()
	if t.defs, err = r.tools.Definitions(ctx); err != nil {
		r.fail(t, fmt.Sprintf("failed to load tools: %v", err))
		return nil
	}

	r.runRounds(ctx, t)
	return nil
}

// ResumeTurn continues an interrupted turn with the operator's decision.
// Approve dispatches the pending destructive call; cancel records the
// cancellation marker instead. Either way the model stream then continues.
func (r *Runner) ResumeTurn(ctx context.Context, userID, conversationID uuid.UUID, decision Decision, emitter Emitter) error {
	unlock, err := r.lock(conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	// Fetch and validate under the lock: a duplicate approval racing the
	// first must observe the committed tool rows, not a pre-resume snapshot,
	// or the destructive call would dispatch twice.
	conv, err := r.store.GetConversationWithMessages(conversationID, userID)
	if err != nil {
		return err
	}

	pending, err := pendingCalls(conv.Messages, r.tools)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.turnTTL)
	defer cancel()

	t := &turn{
		conversationID: conv.ID,
		userID:         userID,
		history:        historyFor(conv.Messages),
		emitter:        emitter,
		charged:        true, // the turn was charged when it started
	}
	if t.defs, err = r.tools.Definitions(ctx); err != nil {
		r.fail(t, fmt.Sprintf("failed to load tools: %v", err))
		return nil
	}

	for _, call := range pending {
		var result string
		if r.tools.IsDestructive(call.Name) && decision == DecisionCancel {
			result = CancelledResultText
		} else {
			result = r.execute(ctx, call)
		}
		if _, err := r.store.AppendToolMessage(t.conversationID, call.Name, result); err != nil {
			r.fail(t, "failed to persist tool result")
			return nil
		}
		t.history = append(t.history, ModelMessage{Role: models.RoleTool, ToolName: call.Name, Content: result})
		r.emit(t, stream.ToolResult(call.Name, result))
	}

	r.runRounds(ctx, t)
	return nil
}

// pendingCalls validates the resume precondition: the conversation's last
// message is an assistant message carrying an unresolved destructive
// invocation. An interrupt pauses the round before any of its calls run, so
// when one exists the whole call list of that message is still unresolved.
func pendingCalls(messages []models.Message, dispatcher tools.Dispatcher) ([]models.ToolCall, error) {
	if len(messages) == 0 {
		return nil, ErrNoPendingInterrupt
	}
	last := messages[len(messages)-1]
	if last.Role != models.RoleAssistant {
		return nil, ErrNoPendingInterrupt
	}
	calls := last.ToolCalls()
	destructive := false
	for _, call := range calls {
		if dispatcher.IsDestructive(call.Name) {
			destructive = true
			break
		}
	}
	if !destructive {
		return nil, ErrNoPendingInterrupt
	}
	return calls, nil
}

// runRounds is the model/tool loop shared by start and resume: stream one
// model response, persist it, execute its tool calls, feed results back on a
// fresh stream, until the model answers without calls.
func (r *Runner) runRounds(ctx context.Context, t *turn) {
	for round := 0; round < r.maxRounds; round++ {
		content, calls, ok := r.streamRound(ctx, t)
		if !ok {
			return
		}

		if _, err := r.store.AppendAssistantMessage(t.conversationID, content, calls, r.model.ModelName()); err != nil {
			r.fail(t, "failed to persist assistant message")
			return
		}
		t.history = append(t.history, ModelMessage{
			Role:      models.RoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})

		if len(calls) == 0 {
			r.emit(t, stream.Done(t.conversationID.String()))
			return
		}

		// A destructive call pauses the whole round before anything runs, so
		// the assistant message stays the most recent row while pending.
		if idx := firstDestructive(r.tools, calls); idx >= 0 {
			call := calls[idx]
			metrics.Interrupts.Inc()
			r.emit(t, stream.Confirmation(call.Name, call.Args, confirmationPrompt(call)))
			r.emit(t, stream.Interrupted(t.conversationID.String()))
			return
		}

		for _, call := range calls {
			result := r.execute(ctx, call)
			if _, err := r.store.AppendToolMessage(t.conversationID, call.Name, result); err != nil {
				r.fail(t, "failed to persist tool result")
				return
			}
			t.history = append(t.history, ModelMessage{Role: models.RoleTool, ToolName: call.Name, Content: result})
			r.emit(t, stream.ToolResult(call.Name, result))
		}
	}

	r.fail(t, "turn exceeded the tool call limit")
}

// streamRound pulls one model response, emitting tokens and deduplicated
// tool calls as they arrive. Returns ok=false when the turn already ended
// (fault or quota denial) and no further rounds should run.
func (r *Runner) streamRound(ctx context.Context, t *turn) (string, []models.ToolCall, bool) {
	modelStream, err := r.model.StartStream(ctx, t.history, t.defs)
	if err != nil {
		r.fail(t, fmt.Sprintf("model service unavailable: %v", err))
		return "", nil, false
	}
	defer modelStream.Close()

	var content strings.Builder
	var calls []models.ToolCall
	seen := make(map[string]bool)

	for {
		delta, err := modelStream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Partial content already persisted stays persisted; the round's
			// in-memory remainder is committed so history reflects what the
			// client saw.
			if content.Len() > 0 || len(calls) > 0 {
				if _, persistErr := r.store.AppendAssistantMessage(t.conversationID, content.String(), calls, r.model.ModelName()); persistErr != nil {
					log.Error().Err(persistErr).Str("conversationID", t.conversationID.String()).Msg("Failed to persist partial assistant message")
				}
			}
			r.fail(t, "the model stream failed")
			return "", nil, false
		}

		if delta.Text != "" {
			if !r.charge(t) {
				return "", nil, false
			}
			content.WriteString(delta.Text)
			metrics.TokensStreamed.Inc()
			r.emit(t, stream.Token(delta.Text))
		}

		if delta.Call != nil {
			if !r.charge(t) {
				return "", nil, false
			}
			key := callKey(*delta.Call)
			if seen[key] {
				// Upstream models occasionally re-emit identical calls.
				continue
			}
			seen[key] = true
			calls = append(calls, *delta.Call)
			metrics.ToolCalls.WithLabelValues(delta.Call.Name).Inc()
			r.emit(t, stream.ToolCall(delta.Call.Name, delta.Call.Args))
		}
	}

	if content.Len() == 0 && len(calls) == 0 {
		r.emit(t, stream.Done(t.conversationID.String()))
		return "", nil, false
	}
	return content.String(), calls, true
}

// charge performs the single quota increment of the turn, at the first token
// or tool call. Resumes arrive pre-charged.
func (r *Runner) charge(t *turn) bool {
	if t.charged {
		return true
	}
	if err := r.quota.Consume(t.userID); err != nil {
		r.fail(t, err.Error())
		return false
	}
	t.charged = true
	return true
}

// execute dispatches an ordinary tool. Faults become result text so the
// model can react to the failure; they never abort the turn.
func (r *Runner) execute(ctx context.Context, call models.ToolCall) string {
	result, err := r.tools.Dispatch(ctx, call.Name, call.Args)
	if err != nil {
		log.Warn().Err(err).Str("tool", call.Name).Msg("Tool dispatch failed")
		return fmt.Sprintf("Error: %v", err)
	}
	return result
}

func (r *Runner) fail(t *turn, message string) {
	metrics.TurnsFailed.Inc()
	r.emit(t, stream.Error(message))
}

// emit forwards an event to the client and mirrors it on the conversation's
// broker topic. After the first transport failure the client is considered
// gone and delivery is skipped, but the turn keeps running.
func (r *Runner) emit(t *turn, ev stream.Event) {
	if r.publisher != nil {
		r.publisher.Publish("conversation:"+t.conversationID.String(), ev)
	}
	if t.clientGone {
		return
	}
	if err := t.emitter.Emit(ev); err != nil {
		t.clientGone = true
		log.Info().Str("conversationID", t.conversationID.String()).Msg("Client disconnected, continuing turn for bookkeeping")
	}
}

func (r *Runner) lock(conversationID uuid.UUID) (func(), error) {
	entry, _ := r.locks.LoadOrStore(conversationID, &sync.Mutex{})
	mu := entry.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, ErrTurnInProgress
	}
	return mu.Unlock, nil
}

// historyFor converts the persisted log into model messages.
func historyFor(messages []models.Message) []ModelMessage {
	history := make([]ModelMessage, 0, len(messages))
	for _, msg := range messages {
		mm := ModelMessage{Role: msg.Role, Content: msg.Content}
		switch msg.Role {
		case models.RoleAssistant:
			mm.ToolCalls = msg.ToolCalls()
		case models.RoleTool:
			if meta := msg.ToolResultMeta(); meta != nil {
				mm.ToolName = meta.Name
			}
		}
		history = append(history, mm)
	}
	return history
}

func firstDestructive(dispatcher tools.Dispatcher, calls []models.ToolCall) int {
	for i, call := range calls {
		if dispatcher.IsDestructive(call.Name) {
			return i
		}
	}
	return -1
}

// callKey canonicalizes a call for deduplication. json.Marshal sorts map
// keys, so identical argument objects produce identical keys regardless of
// delta ordering.
func callKey(call models.ToolCall) string {
	raw, err := json.Marshal(call.Args)
	if err != nil {
		return call.Name
	}
	return call.Name + ":" + string(raw)
}

func confirmationPrompt(call models.ToolCall) string {
	return fmt.Sprintf("The agent wants to run %s. This action cannot be undone. Approve or cancel?", call.Name)
}
