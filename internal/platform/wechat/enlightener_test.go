package wechat_test

import (
	"context"
	"strings"
	"testing"

	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/dedup"
	"github.com/chatrelay/chatrelay/internal/lock"
	"github.com/chatrelay/chatrelay/internal/message"
	"github.com/chatrelay/chatrelay/internal/pipeline"
	"github.com/chatrelay/chatrelay/internal/platform/wechat"
)

func newEchoPipeline(t *testing.T, welcome string) *pipeline.Dispatcher {
	t.Helper()
	codec, err := wechat.NewCodec("wxapp", "enlightener-test-token", "")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return pipeline.NewDispatcher(
		nil,
		conversation.NewMemoryRegistry(10),
		lock.NewLocalGateway(),
		wechat.Enlightener{},
		wechat.EchoResponder{Welcome: welcome},
		codec,
		nil,
		pipeline.Options{Dedup: dedup.DefaultOptions()},
	)
}

func wechatRequest(msgType message.MsgType, content, event string) *message.InboundMessage {
	return &message.InboundMessage{
		Platform:    wechat.Platform,
		MsgID:       9001,
		CreateTime:  1700000000,
		MsgType:     msgType,
		FromAccount: "visitor",
		ToAccount:   "official",
		Content:     content,
		Event:       event,
	}
}

func TestEchoResponder_TextEchoed(t *testing.T) {
	t.Parallel()
	d := newEchoPipeline(t, "")

	result, err := d.Handle(context.Background(), wechatRequest(message.MsgTypeText, "ni hao", ""))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Status != pipeline.StatusReply {
		t.Fatalf("Status = %s, want reply", result.Status)
	}
	xmlOut := string(result.Payload)
	if !strings.Contains(xmlOut, "<![CDATA[ni hao]]>") {
		t.Fatalf("reply does not echo content:\n%s", xmlOut)
	}
	if !strings.Contains(xmlOut, "<ToUserName><![CDATA[visitor]]></ToUserName>") {
		t.Fatalf("reply not addressed back to the sender:\n%s", xmlOut)
	}
}

func TestEchoResponder_SubscribeWelcome(t *testing.T) {
	t.Parallel()
	d := newEchoPipeline(t, "welcome aboard")

	result, err := d.Handle(context.Background(), wechatRequest(message.MsgTypeEvent, "", "subscribe"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Status != pipeline.StatusReply {
		t.Fatalf("Status = %s, want reply", result.Status)
	}
	if !strings.Contains(string(result.Payload), "<![CDATA[welcome aboard]]>") {
		t.Fatalf("reply missing welcome text:\n%s", result.Payload)
	}
}

func TestEchoResponder_SubscribeWithoutWelcome(t *testing.T) {
	t.Parallel()
	d := newEchoPipeline(t, "")

	result, err := d.Handle(context.Background(), wechatRequest(message.MsgTypeEvent, "", "subscribe"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Status != pipeline.StatusEmpty || string(result.Payload) != "success" {
		t.Fatalf("outcome = (%s, %q), want the empty-success marker", result.Status, result.Payload)
	}
}

func TestEchoResponder_OtherTypesAcknowledged(t *testing.T) {
	t.Parallel()
	d := newEchoPipeline(t, "unused")

	result, err := d.Handle(context.Background(), wechatRequest(message.MsgTypeImage, "", ""))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Status != pipeline.StatusEmpty || string(result.Payload) != "success" {
		t.Fatalf("outcome = (%s, %q), want the empty-success marker", result.Status, result.Payload)
	}
}

func TestEnlightener_RejectsUnknownKind(t *testing.T) {
	t.Parallel()
	e := wechat.Enlightener{}
	if _, err := e.NewReply(message.ReplyKind("sticker"), nil); err == nil {
		t.Fatal("NewReply accepted an unsupported kind")
	}
	if e.Platform() != wechat.Platform {
		t.Fatalf("Platform() = %q, want %q", e.Platform(), wechat.Platform)
	}
}
