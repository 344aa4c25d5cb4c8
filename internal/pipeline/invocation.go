package pipeline

import (
	"strings"
	"time"

	"github.com/chatrelay/chatrelay/internal/message"
)

// Invocation is the per-delivery pipeline state. It is owned by a single
// goroutine for its whole lifetime; hooks mutate it, nothing else does.
type Invocation struct {
	ID       string
	Request  *message.InboundMessage
	Response message.Reply

	factory   *message.Factory
	cancelled bool
	duplicate bool
	startedAt time.Time
}

// Cancel stops the lifecycle before the next stage starts. It never
// interrupts a hook that is already running.
func (inv *Invocation) Cancel() {
	inv.cancelled = true
}

// Cancelled reports whether the lifecycle has been stopped.
func (inv *Invocation) Cancelled() bool {
	return inv.cancelled
}

// Duplicate reports whether the request was flagged as a redelivery.
func (inv *Invocation) Duplicate() bool {
	return inv.duplicate
}

func (inv *Invocation) markDuplicate() {
	inv.cancelled = true
	inv.duplicate = true
}

// CreateReply builds a reply of the given kind addressed back to the
// request's sender.
func (inv *Invocation) CreateReply(kind message.ReplyKind) (message.Reply, error) {
	return inv.factory.Create(kind)
}

// Sender returns the request's sender account, or empty when no request is
// bound.
func (inv *Invocation) Sender() string {
	if inv.Request == nil {
		return ""
	}
	return strings.TrimSpace(inv.Request.FromAccount)
}
