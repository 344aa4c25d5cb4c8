package message

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoActiveRequest is returned by the factory when no request is bound to
// the current invocation. This is a reachable state rather than a fault, so
// callers usually treat it as "no reply" instead of failing.
var ErrNoActiveRequest = errors.New("no active request bound to factory")

// ReplyKind identifies a reply variant.
type ReplyKind string

const (
	ReplyText  ReplyKind = "text"
	ReplyImage ReplyKind = "image"
	ReplyNews  ReplyKind = "news"
	// ReplyNone is the "success, no content" sentinel: the invocation
	// succeeded and the platform's canonical empty-success marker is sent.
	ReplyNone ReplyKind = "none"
)

// ReplyHeader carries the addressing fields every reply shares. From/To are
// swapped relative to the request so the reply is addressed back to the
// sender.
type ReplyHeader struct {
	Platform    string `json:"platform"`
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	CreateTime  int64  `json:"create_time"`
}

// Reply is an outbound message produced by the factory and finalized by the
// lifecycle hooks before serialization.
type Reply interface {
	Kind() ReplyKind
	Header() *ReplyHeader
}

// TextReply carries a plain text payload.
type TextReply struct {
	ReplyHeader
	Content string `json:"content"`
}

func (r *TextReply) Kind() ReplyKind      { return ReplyText }
func (r *TextReply) Header() *ReplyHeader { return &r.ReplyHeader }

// ImageReply references an uploaded media asset by platform key.
type ImageReply struct {
	ReplyHeader
	MediaID string `json:"media_id"`
}

func (r *ImageReply) Kind() ReplyKind      { return ReplyImage }
func (r *ImageReply) Header() *ReplyHeader { return &r.ReplyHeader }

// NewsArticle is a single rich-link card inside a NewsReply.
type NewsArticle struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	PicURL      string `json:"pic_url,omitempty"`
	URL         string `json:"url,omitempty"`
}

// NewsReply carries a list of rich-link cards.
type NewsReply struct {
	ReplyHeader
	Articles []NewsArticle `json:"articles"`
}

func (r *NewsReply) Kind() ReplyKind      { return ReplyNews }
func (r *NewsReply) Header() *ReplyHeader { return &r.ReplyHeader }

// EmptyReply is the explicit success-with-no-content sentinel.
type EmptyReply struct {
	ReplyHeader
}

func (r *EmptyReply) Kind() ReplyKind      { return ReplyNone }
func (r *EmptyReply) Header() *ReplyHeader { return &r.ReplyHeader }

// Enlightener supplies platform-specific reply construction so the pipeline
// never branches on platform identity. Implementations fill in any fields
// beyond the shared header.
type Enlightener interface {
	Platform() string
	NewReply(kind ReplyKind, req *InboundMessage) (Reply, error)
}

// Factory constructs replies bound to the request of the current
// invocation. One factory is created per invocation; it is not safe for
// concurrent use.
type Factory struct {
	enlightener Enlightener
	request     *InboundMessage
	now         func() time.Time
}

// NewFactory creates a factory backed by the given enlightener.
func NewFactory(enlightener Enlightener) *Factory {
	return &Factory{enlightener: enlightener, now: time.Now}
}

// Bind attaches the request the next replies answer.
func (f *Factory) Bind(req *InboundMessage) {
	f.request = req
}

// Request returns the currently bound request, or nil.
func (f *Factory) Request() *InboundMessage {
	return f.request
}

// Create builds a reply of the given kind addressed back to the bound
// request's sender. Returns ErrNoActiveRequest when nothing is bound.
func (f *Factory) Create(kind ReplyKind) (Reply, error) {
	if f.request == nil {
		return nil, ErrNoActiveRequest
	}
	if f.enlightener == nil {
		return nil, fmt.Errorf("reply enlightener not configured")
	}
	reply, err := f.enlightener.NewReply(kind, f.request)
	if err != nil {
		return nil, fmt.Errorf("create %s reply: %w", kind, err)
	}
	header := reply.Header()
	header.Platform = f.request.Platform
	header.FromAccount = strings.TrimSpace(f.request.ToAccount)
	header.ToAccount = strings.TrimSpace(f.request.FromAccount)
	if header.CreateTime == 0 {
		header.CreateTime = f.now().Unix()
	}
	return reply, nil
}
