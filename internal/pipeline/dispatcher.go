// Package pipeline orchestrates one inbound delivery end to end:
// admission, deduplication under an account-scoped lock, the
// execute/build/respond lifecycle with cooperative cancellation, reply
// recording, and finalization to the provider wire form.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/dedup"
	"github.com/chatrelay/chatrelay/internal/lock"
	"github.com/chatrelay/chatrelay/internal/message"
	"github.com/chatrelay/chatrelay/internal/telemetry"
)

// ResponseBuilder produces the reply for an admitted request. This is the
// platform/application business logic; failures here are wrapped into
// ExecutionError at the pipeline boundary.
type ResponseBuilder interface {
	BuildResponse(ctx context.Context, inv *Invocation) (message.Reply, error)
}

// Serializer renders a finalized reply into the provider wire format and
// supplies the platform's canonical empty-success marker.
type Serializer interface {
	Serialize(reply message.Reply) ([]byte, error)
	EmptySuccess() []byte
}

// Status classifies the outcome reported to the transport layer.
type Status string

const (
	// StatusReply means a serialized reply payload is attached.
	StatusReply Status = "reply"
	// StatusEmpty means success with no content, including deduplicated
	// deliveries, which are acknowledged rather than failed.
	StatusEmpty Status = "empty"
	// StatusFailed means processing failed and no payload was produced.
	StatusFailed Status = "failed"
)

// Result is the wire outcome of one delivery.
type Result struct {
	Payload   []byte
	Status    Status
	Duplicate bool
}

// Hook is an extension point run at a fixed lifecycle position. Hooks may
// call inv.Cancel to stop the next stage from starting.
type Hook func(ctx context.Context, inv *Invocation)

// Options configure per-dispatcher behavior.
type Options struct {
	Dedup dedup.Options

	// OnExecuting runs before the build phase and may cancel it.
	OnExecuting Hook

	// OnExecuted always runs once the build phase has begun, even when
	// building failed.
	OnExecuted Hook
}

// Dispatcher runs the message-handling pipeline. One dispatcher serves
// many concurrent deliveries; all per-delivery state lives in the
// Invocation.
type Dispatcher struct {
	registry    conversation.Registry
	locks       lock.Gateway
	dedup       *dedup.Deduplicator
	enlightener message.Enlightener
	builder     ResponseBuilder
	serializer  Serializer
	telemetry   telemetry.Sink
	logger      *slog.Logger
	opts        Options
	now         func() time.Time
}

// NewDispatcher wires the pipeline. The registry's record cap is fixed for
// the dispatcher's lifetime; a cap of zero disables the dedup phase.
func NewDispatcher(
	log *slog.Logger,
	registry conversation.Registry,
	locks lock.Gateway,
	enlightener message.Enlightener,
	builder ResponseBuilder,
	serializer Serializer,
	sink telemetry.Sink,
	opts Options,
) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &Dispatcher{
		registry:    registry,
		locks:       locks,
		dedup:       dedup.New(registry, opts.Dedup),
		enlightener: enlightener,
		builder:     builder,
		serializer:  serializer,
		telemetry:   sink,
		logger:      log.With(slog.String("component", "dispatcher")),
		opts:        opts,
		now:         time.Now,
	}
}

// Handle processes one parsed delivery. A nil request finalizes
// immediately with no reply. Duplicates are acknowledged with the empty
// outcome, never an error.
func (d *Dispatcher) Handle(ctx context.Context, req *message.InboundMessage) (Result, error) {
	inv := &Invocation{
		ID:        uuid.NewString(),
		Request:   req,
		factory:   message.NewFactory(d.enlightener),
		startedAt: d.now(),
	}
	if req != nil {
		inv.factory.Bind(req)
	}
	d.emit(telemetry.SignalRequest, inv.Sender(), 1)

	if req == nil {
		return d.finalize(inv)
	}

	if err := d.dedupPhase(ctx, inv); err != nil {
		d.emit(telemetry.SignalException, inv.Sender(), 1)
		return Result{Status: StatusFailed}, err
	}
	if inv.cancelled {
		return d.finalize(inv)
	}

	if err := d.execute(ctx, inv); err != nil {
		return Result{Status: StatusFailed}, err
	}
	return d.finalize(inv)
}

// dedupPhase evaluates the repeat check inside the account-scoped critical
// section. Skipped entirely when no history is retained.
func (d *Dispatcher) dedupPhase(ctx context.Context, inv *Invocation) error {
	if d.registry.MaxRecords() == 0 {
		return nil
	}
	key := inv.Request.Key()
	release, err := d.locks.Acquire(ctx, dedup.LockName, key.String())
	if err != nil {
		return fmt.Errorf("acquire dedup lock for %s: %w", key, err)
	}
	repeat, checkErr := d.dedup.Admit(ctx, inv.Request)
	if releaseErr := release(ctx); releaseErr != nil {
		d.logger.Warn("release dedup lock failed",
			slog.String("invocation", inv.ID),
			slog.String("account_key", key.String()),
			slog.Any("error", releaseErr),
		)
	}
	if checkErr != nil {
		return fmt.Errorf("dedup check for %s: %w", key, checkErr)
	}
	if repeat {
		inv.markDuplicate()
		d.logger.Debug("duplicate delivery suppressed",
			slog.String("invocation", inv.ID),
			slog.String("account_key", key.String()),
			slog.Int64("msg_id", inv.Request.MsgID),
		)
	}
	return nil
}

// execute runs the pre-execute hook, the build phase, reply recording, and
// the guaranteed post-execute hook. Once the build phase begins, the
// post-execute hook and the latency sample run on every exit path.
func (d *Dispatcher) execute(ctx context.Context, inv *Invocation) (err error) {
	if d.opts.OnExecuting != nil {
		d.opts.OnExecuting(ctx, inv)
	}
	if inv.cancelled {
		return nil
	}

	defer func() {
		if d.opts.OnExecuted != nil {
			d.opts.OnExecuted(ctx, inv)
		}
		d.emit(telemetry.SignalLatency, inv.Sender(), float64(d.now().Sub(inv.startedAt).Milliseconds()))
	}()

	reply, buildErr := d.builder.BuildResponse(ctx, inv)
	if buildErr != nil {
		inv.Response = nil
		d.emit(telemetry.SignalException, inv.Sender(), 1)
		return &ExecutionError{Cause: buildErr}
	}
	inv.Response = reply

	if reply != nil && strings.TrimSpace(reply.Header().FromAccount) != "" && d.registry.MaxRecords() > 0 {
		if recordErr := d.registry.AppendOutbound(ctx, inv.Request.Key(), reply); recordErr != nil {
			d.emit(telemetry.SignalException, inv.Sender(), 1)
			return &ExecutionError{Cause: fmt.Errorf("record reply: %w", recordErr)}
		}
	}
	d.emit(telemetry.SignalSuccess, inv.Sender(), 1)
	return nil
}

// finalize renders the invocation's outcome: the canonical empty-success
// marker for the explicit no-content sentinel, an empty payload when there
// is no reply at all, or the serialized reply.
func (d *Dispatcher) finalize(inv *Invocation) (Result, error) {
	result := Result{Status: StatusEmpty, Duplicate: inv.duplicate}
	switch {
	case inv.Response == nil:
	case inv.Response.Kind() == message.ReplyNone:
		result.Payload = d.serializer.EmptySuccess()
	default:
		payload, err := d.serializer.Serialize(inv.Response)
		if err != nil {
			d.emit(telemetry.SignalException, inv.Sender(), 1)
			return Result{Status: StatusFailed}, fmt.Errorf("serialize reply: %w", err)
		}
		result.Payload = payload
		result.Status = StatusReply
	}
	return result, nil
}

func (d *Dispatcher) emit(signal telemetry.Signal, tag string, value float64) {
	d.telemetry.Emit(telemetry.Event{Signal: signal, Tag: tag, Value: value})
}
