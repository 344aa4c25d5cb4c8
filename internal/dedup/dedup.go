// Package dedup suppresses reprocessing of redelivered messages. The
// upstream provider retries deliveries it considers unacknowledged, so the
// same message can arrive more than once; the deduplicator compares each
// candidate against the most recent recorded request for its account.
package dedup

import (
	"context"
	"fmt"

	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/message"
)

// LockName scopes the mutual-exclusion lock the dedup critical section
// runs under. The lock resource is the candidate's account key.
const LockName = "message_content_omit_repeat"

// SpecialPredicate is an optional platform-supplied extra dedup condition,
// consulted only when the identity rule did not already flag a repeat. It
// receives the candidate and the account's history snapshot.
type SpecialPredicate func(candidate *message.InboundMessage, history conversation.Context) bool

// OverridePredicate can disable the dedup check for a single message.
// Returning false skips the check entirely: the message is never flagged.
type OverridePredicate func(candidate *message.InboundMessage) bool

// Options configure the deduplicator.
type Options struct {
	// OmitRepeatedMessage gates the feature globally. Defaults to enabled.
	OmitRepeatedMessage bool

	// OmitRepeatedMessageFunc is the per-message override. Nil means the
	// global flag alone decides.
	OmitRepeatedMessageFunc OverridePredicate

	// SpecialDeduplication is the platform's extra repeat condition.
	SpecialDeduplication SpecialPredicate
}

// DefaultOptions enables dedup with no extra predicates.
func DefaultOptions() Options {
	return Options{OmitRepeatedMessage: true}
}

// Deduplicator evaluates candidates against the conversation registry.
// Admit must only be called while holding the gateway lock for the
// candidate's account key; the caller owns lock acquisition.
type Deduplicator struct {
	registry conversation.Registry
	opts     Options
}

// New creates a deduplicator over the given registry.
func New(registry conversation.Registry, opts Options) *Deduplicator {
	return &Deduplicator{registry: registry, opts: opts}
}

// Admit decides whether candidate is a repeat and, when it is not (and its
// type is known), records it into the account's history before returning.
// The record-then-release ordering is what makes the decision atomic with
// respect to concurrent deliveries for the same account.
func (d *Deduplicator) Admit(ctx context.Context, candidate *message.InboundMessage) (bool, error) {
	if candidate == nil {
		return false, nil
	}
	key := candidate.Key()

	repeat, err := d.check(ctx, key, candidate)
	if err != nil {
		return false, err
	}
	if !repeat && candidate.MsgType != message.MsgTypeUnknown {
		if err := d.registry.AppendInbound(ctx, key, candidate); err != nil {
			return false, fmt.Errorf("record inbound message: %w", err)
		}
	}
	return repeat, nil
}

func (d *Deduplicator) check(ctx context.Context, key message.AccountKey, candidate *message.InboundMessage) (bool, error) {
	enabled := d.opts.OmitRepeatedMessage
	if enabled && d.opts.OmitRepeatedMessageFunc != nil {
		enabled = d.opts.OmitRepeatedMessageFunc(candidate)
	}
	if !enabled {
		return false, nil
	}

	history, err := d.registry.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load conversation context: %w", err)
	}
	if len(history.Inbound) == 0 {
		return false, nil
	}
	last := history.Inbound[len(history.Inbound)-1]
	if IsRepeat(last, candidate) {
		return true, nil
	}
	if d.opts.SpecialDeduplication != nil && d.opts.SpecialDeduplication(candidate, history) {
		return true, nil
	}
	return false, nil
}

// IsRepeat applies the identity rule: a nonzero matching MsgID flags a
// repeat outright; the second clause additionally matches CreateTime and
// MsgType so that messages whose MsgID is legitimately zero on both sides
// still dedup on the weaker timestamp+type signal. The overlap between the
// clauses is intentional.
func IsRepeat(last, candidate *message.InboundMessage) bool {
	if last == nil || candidate == nil {
		return false
	}
	if last.MsgID != 0 && last.MsgID == candidate.MsgID {
		return true
	}
	return last.MsgID == candidate.MsgID &&
		last.CreateTime == candidate.CreateTime &&
		last.MsgType == candidate.MsgType
}
