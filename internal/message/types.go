// Package message defines the platform-neutral message model shared by the
// inbound pipeline: parsed requests, typed replies, and the reply factory.
package message

import (
	"strings"
)

// MsgType discriminates inbound message variants. Unknown is a valid value
// for payloads the platform codec does not recognize; unknown messages are
// processed but never recorded into conversation history.
type MsgType string

const (
	MsgTypeUnknown  MsgType = "unknown"
	MsgTypeText     MsgType = "text"
	MsgTypeImage    MsgType = "image"
	MsgTypeVoice    MsgType = "voice"
	MsgTypeVideo    MsgType = "video"
	MsgTypeLocation MsgType = "location"
	MsgTypeLink     MsgType = "link"
	MsgTypeEvent    MsgType = "event"
)

// String returns the message type as a plain string.
func (t MsgType) String() string {
	return string(t)
}

// ParseMsgType normalizes a raw wire discriminator into a MsgType.
func ParseMsgType(raw string) MsgType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "text":
		return MsgTypeText
	case "image":
		return MsgTypeImage
	case "voice":
		return MsgTypeVoice
	case "video", "shortvideo":
		return MsgTypeVideo
	case "location":
		return MsgTypeLocation
	case "link":
		return MsgTypeLink
	case "event":
		return MsgTypeEvent
	default:
		return MsgTypeUnknown
	}
}

// AccountKey scopes conversation history and dedup locking to one
// counterparty account on one platform.
type AccountKey struct {
	Platform string
	Account  string
}

// String returns the composite key in "platform:account" form.
func (k AccountKey) String() string {
	return strings.TrimSpace(k.Platform) + ":" + strings.TrimSpace(k.Account)
}

// IsZero reports whether either component is missing.
func (k AccountKey) IsZero() bool {
	return strings.TrimSpace(k.Platform) == "" || strings.TrimSpace(k.Account) == ""
}

// InboundMessage is a parsed provider callback. Immutable once parsed; the
// pipeline shares it by reference with the conversation store only.
type InboundMessage struct {
	Platform    string         `json:"platform"`
	MsgID       int64          `json:"msg_id,omitempty"`
	CreateTime  int64          `json:"create_time"`
	MsgType     MsgType        `json:"msg_type"`
	FromAccount string         `json:"from_account"`
	ToAccount   string         `json:"to_account"`
	Content     string         `json:"content,omitempty"`
	Event       string         `json:"event,omitempty"`
	MediaID     string         `json:"media_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Key returns the account key the message belongs to: the sending
// counterparty, scoped by platform.
func (m *InboundMessage) Key() AccountKey {
	return AccountKey{Platform: m.Platform, Account: m.FromAccount}
}
