// Package conversation maintains the bounded, time-ordered recent-message
// history kept per account key. Entries are append-only: once recorded they
// are never mutated, and the oldest entries are evicted first when a
// context exceeds the configured record cap.
package conversation

import (
	"context"
	"time"

	"github.com/chatrelay/chatrelay/internal/message"
)

// OutboundRecord is the stored form of a reply. Replies are kept for
// history inspection only, so the typed payload is flattened to its kind
// and addressing header.
type OutboundRecord struct {
	Kind       message.ReplyKind   `json:"kind"`
	Header     message.ReplyHeader `json:"header"`
	RecordedAt time.Time           `json:"recorded_at"`
}

// Context is a snapshot of one account's recent history, newest last.
type Context struct {
	Key      message.AccountKey
	Inbound  []*message.InboundMessage
	Outbound []OutboundRecord
}

// Registry maps account keys to conversation contexts with a single record
// cap applied to every context. Contexts are created lazily on first
// append and age out by eviction and by expiry sweeps; they are never
// destroyed explicitly.
type Registry interface {
	// MaxRecords is the per-direction history cap. Zero means no history
	// is retained, which disables context-based dedup entirely.
	MaxRecords() int

	// Get returns the context for key, or an empty context if none exists.
	Get(ctx context.Context, key message.AccountKey) (Context, error)

	// AppendInbound records a parsed request, evicting from the front when
	// the cap is exceeded.
	AppendInbound(ctx context.Context, key message.AccountKey, msg *message.InboundMessage) error

	// AppendOutbound records a reply, evicting from the front when the cap
	// is exceeded.
	AppendOutbound(ctx context.Context, key message.AccountKey, reply message.Reply) error

	// LastInbound returns the most recently appended request for key, or
	// nil if the context is empty.
	LastInbound(ctx context.Context, key message.AccountKey) (*message.InboundMessage, error)

	// DeleteOlderThan drops entries recorded before cutoff across all
	// contexts and reports how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
