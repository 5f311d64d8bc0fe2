package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/qmuntal/stateless"
	"go.opentelemetry.io/otel/attribute"

	"github.com/elizastream/server/generator"
	"github.com/elizastream/server/history"
	"github.com/elizastream/server/logger"
	"github.com/elizastream/server/rpc"
	"github.com/elizastream/server/session"
	"github.com/elizastream/server/telemetry"
)

// Turn states, in the order a message moves through them.
const (
	StateReceived         = "Received"
	StateRecorded         = "Recorded"
	StateAnnounced        = "Announced"
	StateAwaitingResponse = "AwaitingResponse"
	StateCompleted        = "Completed"
	StateFailed           = "Failed"
)

const (
	triggerRecord   = "Record"
	triggerAnnounce = "Announce"
	triggerAwait    = "Await"
	triggerComplete = "Complete"
	triggerFail     = "Fail"
)

// turn is one inbound message on its way to a reply.
type turn struct {
	sessionID string
	username  string
	input     string

	// context is the session's window before input was added.
	context []session.Entry
	reply   generator.Reply
	err     error
	final   generator.Reply
}

func (o *Orchestrator) newMachine(t *turn) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateReceived)

	fsm.Configure(StateReceived).
		Permit(triggerRecord, StateRecorded)

	fsm.Configure(StateRecorded).
		OnEntry(func(ctx context.Context, _ ...any) error {
			o.record(t)
			return nil
		}).
		Permit(triggerAnnounce, StateAnnounced)

	fsm.Configure(StateAnnounced).
		OnEntry(func(ctx context.Context, _ ...any) error {
			o.signal(rpc.TypeAITyping, rpc.TypingData{Username: t.username})
			return nil
		}).
		Permit(triggerAwait, StateAwaitingResponse)

	fsm.Configure(StateAwaitingResponse).
		OnEntry(func(ctx context.Context, _ ...any) error {
			t.reply, t.err = o.generate(ctx, t)
			return nil
		}).
		Permit(triggerComplete, StateCompleted).
		Permit(triggerFail, StateFailed)

	fsm.Configure(StateCompleted).
		OnEntry(func(ctx context.Context, _ ...any) error {
			telemetry.IncGeneratorRequest(telemetry.OutcomeOK)
			o.respond(t, t.reply)
			return nil
		})

	fsm.Configure(StateFailed).
		OnEntry(func(ctx context.Context, _ ...any) error {
			telemetry.IncGeneratorRequest(telemetry.OutcomeFallback)
			slog.Warn("generator failed, sending fallback",
				"sessionId", t.sessionID,
				"username", t.username,
				"error", t.err)
			o.respond(t, generator.Reply{Text: o.cfg.FallbackText, Mood: history.MoodSad})
			return nil
		})

	fsm.OnTransitioned(func(_ context.Context, tr stateless.Transition) {
		slog.Debug("chat turn transition",
			"sessionId", t.sessionID,
			"from", tr.Source,
			"to", tr.Destination)
	})

	return fsm
}

// run drives a turn from Received to Completed or Failed. Each transition
// finishes its broadcast before the next one fires.
func (o *Orchestrator) run(ctx context.Context, t *turn) {
	fsm := o.newMachine(t)

	for _, trigger := range []string{triggerRecord, triggerAnnounce, triggerAwait} {
		if err := fsm.FireCtx(ctx, trigger); err != nil {
			slog.Error("chat turn aborted", "sessionId", t.sessionID, "trigger", trigger, "error", err)
			return
		}
	}

	last := triggerComplete
	if t.err != nil {
		last = triggerFail
	}
	if err := fsm.FireCtx(ctx, last); err != nil {
		slog.Error("chat turn aborted", "sessionId", t.sessionID, "trigger", last, "error", err)
	}
}

func (o *Orchestrator) record(t *turn) {
	// A session that left already yields an empty context.
	t.context, _ = o.sessions.Context(t.sessionID)

	o.publish(rpc.TypeUserMessage, history.Event{
		Kind:     history.KindParticipant,
		Content:  t.input,
		Username: t.username,
	})
	o.sessions.Append(t.sessionID, t.input, session.RoleParticipant)
	slog.Debug("participant message recorded",
		"sessionId", t.sessionID,
		"content", logger.Truncate(t.input, 80))
}

func (o *Orchestrator) generate(ctx context.Context, t *turn) (generator.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.GeneratorTimeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "chat.generate",
		attribute.String("chat.username", t.username),
		attribute.Int("chat.context_entries", len(t.context)))
	defer span.End()

	start := time.Now()
	reply, err := o.gen.Generate(ctx, generator.Request{
		Input:    t.input,
		Context:  t.context,
		Username: t.username,
	})
	telemetry.ObserveGenerator(time.Since(start))

	if err == nil && !reply.Mood.IsValid() {
		err = generator.ErrMalformedReply
	}
	if err == nil && reply.Text == "" {
		err = generator.ErrEmptyReply
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && err != nil {
		slog.Warn("generator timed out", "sessionId", t.sessionID, "timeout", o.cfg.GeneratorTimeout)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return generator.Reply{}, err
	}
	telemetry.SetSpanSuccess(span)
	return reply, nil
}

func (o *Orchestrator) respond(t *turn, reply generator.Reply) {
	t.final = reply
	o.sessions.Append(t.sessionID, reply.Text, session.RoleResponder)
	o.publish(rpc.TypeAIResponse, history.Event{
		Kind:         history.KindResponder,
		Content:      reply.Text,
		Username:     o.cfg.ResponderName,
		Mood:         reply.Mood,
		RespondingTo: t.username,
	})
}
