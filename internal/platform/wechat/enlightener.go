package wechat

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatrelay/chatrelay/internal/message"
	"github.com/chatrelay/chatrelay/internal/pipeline"
)

// Enlightener supplies the reply variants this platform supports. The
// factory fills in addressing; nothing here inspects the request beyond
// what construction needs.
type Enlightener struct{}

func (Enlightener) Platform() string {
	return Platform
}

func (Enlightener) NewReply(kind message.ReplyKind, _ *message.InboundMessage) (message.Reply, error) {
	switch kind {
	case message.ReplyText:
		return &message.TextReply{}, nil
	case message.ReplyImage:
		return &message.ImageReply{}, nil
	case message.ReplyNews:
		return &message.NewsReply{}, nil
	case message.ReplyNone:
		return &message.EmptyReply{}, nil
	default:
		return nil, fmt.Errorf("reply kind not supported on %s: %s", Platform, kind)
	}
}

// EchoResponder is the default response builder: it answers text messages
// with their own content, welcomes subscribe events, and acknowledges
// everything else with the empty-success sentinel.
type EchoResponder struct {
	Welcome string
}

func (b EchoResponder) BuildResponse(_ context.Context, inv *pipeline.Invocation) (message.Reply, error) {
	req := inv.Request
	switch {
	case req.MsgType == message.MsgTypeText:
		reply, err := inv.CreateReply(message.ReplyText)
		if err != nil {
			return nil, err
		}
		text := reply.(*message.TextReply)
		text.Content = req.Content
		return text, nil
	case req.MsgType == message.MsgTypeEvent && strings.EqualFold(req.Event, "subscribe"):
		if strings.TrimSpace(b.Welcome) == "" {
			return inv.CreateReply(message.ReplyNone)
		}
		reply, err := inv.CreateReply(message.ReplyText)
		if err != nil {
			return nil, err
		}
		text := reply.(*message.TextReply)
		text.Content = b.Welcome
		return text, nil
	default:
		return inv.CreateReply(message.ReplyNone)
	}
}
