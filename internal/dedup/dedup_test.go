package dedup_test

import (
	"context"
	"testing"

	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/dedup"
	"github.com/chatrelay/chatrelay/internal/message"
)

func textMessage(id, createTime int64) *message.InboundMessage {
	return &message.InboundMessage{
		Platform:    "wechat",
		MsgID:       id,
		CreateTime:  createTime,
		MsgType:     message.MsgTypeText,
		FromAccount: "visitor",
		ToAccount:   "official",
		Content:     "hi",
	}
}

func TestIsRepeat(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		last      *message.InboundMessage
		candidate *message.InboundMessage
		want      bool
	}{
		{
			name:      "matching nonzero msg id",
			last:      textMessage(1001, 1700000000),
			candidate: textMessage(1001, 1700000500),
			want:      true,
		},
		{
			name:      "different msg id",
			last:      textMessage(1001, 1700000000),
			candidate: textMessage(1002, 1700000000),
			want:      false,
		},
		{
			name:      "zero msg id with same time and type",
			last:      textMessage(0, 1700000000),
			candidate: textMessage(0, 1700000000),
			want:      true,
		},
		{
			name:      "zero msg id with different time",
			last:      textMessage(0, 1700000000),
			candidate: textMessage(0, 1700000001),
			want:      false,
		},
		{
			name: "zero msg id with same time but different type",
			last: textMessage(0, 1700000000),
			candidate: &message.InboundMessage{
				MsgID:       0,
				CreateTime:  1700000000,
				MsgType:     message.MsgTypeEvent,
				FromAccount: "visitor",
			},
			want: false,
		},
		{
			name:      "nil last",
			last:      nil,
			candidate: textMessage(1, 1),
			want:      false,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := dedup.IsRepeat(tc.last, tc.candidate); got != tc.want {
				t.Fatalf("IsRepeat = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAdmit_FlagsRedelivery(t *testing.T) {
	t.Parallel()
	reg := conversation.NewMemoryRegistry(10)
	d := dedup.New(reg, dedup.DefaultOptions())
	ctx := context.Background()

	repeat, err := d.Admit(ctx, textMessage(42, 1700000000))
	if err != nil || repeat {
		t.Fatalf("first Admit = (%v, %v), want (false, nil)", repeat, err)
	}
	repeat, err = d.Admit(ctx, textMessage(42, 1700000000))
	if err != nil {
		t.Fatalf("second Admit error: %v", err)
	}
	if !repeat {
		t.Fatal("second Admit = false, want redelivery flagged")
	}

	snap, _ := reg.Get(ctx, textMessage(42, 0).Key())
	if len(snap.Inbound) != 1 {
		t.Fatalf("history length = %d, want 1 (repeat not recorded)", len(snap.Inbound))
	}
}

func TestAdmit_RecordsDistinctMessages(t *testing.T) {
	t.Parallel()
	reg := conversation.NewMemoryRegistry(10)
	d := dedup.New(reg, dedup.DefaultOptions())
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3, 3, 4} {
		if _, err := d.Admit(ctx, textMessage(id, 1700000000+id)); err != nil {
			t.Fatalf("Admit(%d): %v", id, err)
		}
	}
	snap, _ := reg.Get(ctx, textMessage(1, 0).Key())
	if len(snap.Inbound) != 4 {
		t.Fatalf("history length = %d, want 4", len(snap.Inbound))
	}
	for i, want := range []int64{1, 2, 3, 4} {
		if snap.Inbound[i].MsgID != want {
			t.Errorf("history[%d].MsgID = %d, want %d", i, snap.Inbound[i].MsgID, want)
		}
	}
}

func TestAdmit_DisabledGlobally(t *testing.T) {
	t.Parallel()
	reg := conversation.NewMemoryRegistry(10)
	d := dedup.New(reg, dedup.Options{OmitRepeatedMessage: false})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		repeat, err := d.Admit(ctx, textMessage(7, 1700000000))
		if err != nil || repeat {
			t.Fatalf("Admit #%d = (%v, %v), want (false, nil) when disabled", i, repeat, err)
		}
	}
	snap, _ := reg.Get(ctx, textMessage(7, 0).Key())
	if len(snap.Inbound) != 2 {
		t.Fatalf("history length = %d, want 2 (both recorded)", len(snap.Inbound))
	}
}

func TestAdmit_PerMessageOverride(t *testing.T) {
	t.Parallel()
	reg := conversation.NewMemoryRegistry(10)
	opts := dedup.DefaultOptions()
	opts.OmitRepeatedMessageFunc = func(candidate *message.InboundMessage) bool {
		return candidate.Content != "skip-check"
	}
	d := dedup.New(reg, opts)
	ctx := context.Background()

	msg := textMessage(9, 1700000000)
	if _, err := d.Admit(ctx, msg); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	skipped := textMessage(9, 1700000000)
	skipped.Content = "skip-check"
	repeat, err := d.Admit(ctx, skipped)
	if err != nil {
		t.Fatalf("Admit override: %v", err)
	}
	if repeat {
		t.Fatal("override returned false but message was still flagged as repeat")
	}

	repeat, err = d.Admit(ctx, textMessage(9, 1700000000))
	if err != nil {
		t.Fatalf("Admit checked: %v", err)
	}
	if !repeat {
		t.Fatal("message subject to the check was not flagged as repeat")
	}
}

func TestAdmit_SpecialPredicate(t *testing.T) {
	t.Parallel()
	reg := conversation.NewMemoryRegistry(10)
	opts := dedup.DefaultOptions()
	opts.SpecialDeduplication = func(candidate *message.InboundMessage, history conversation.Context) bool {
		for _, prev := range history.Inbound {
			if prev.Content == candidate.Content {
				return true
			}
		}
		return false
	}
	d := dedup.New(reg, opts)
	ctx := context.Background()

	first := textMessage(100, 1700000000)
	first.Content = "unique payload"
	if _, err := d.Admit(ctx, first); err != nil {
		t.Fatalf("Admit first: %v", err)
	}

	second := textMessage(200, 1700000900)
	second.Content = "unique payload"
	repeat, err := d.Admit(ctx, second)
	if err != nil {
		t.Fatalf("Admit second: %v", err)
	}
	if !repeat {
		t.Fatal("special predicate matched but message was not flagged")
	}
}

func TestAdmit_UnknownTypeNotRecorded(t *testing.T) {
	t.Parallel()
	reg := conversation.NewMemoryRegistry(10)
	d := dedup.New(reg, dedup.DefaultOptions())
	ctx := context.Background()

	unknown := textMessage(0, 1700000000)
	unknown.MsgType = message.MsgTypeUnknown
	repeat, err := d.Admit(ctx, unknown)
	if err != nil || repeat {
		t.Fatalf("Admit(unknown) = (%v, %v), want (false, nil)", repeat, err)
	}
	snap, _ := reg.Get(ctx, unknown.Key())
	if len(snap.Inbound) != 0 {
		t.Fatalf("history length = %d, want 0 (unknown types are never recorded)", len(snap.Inbound))
	}
}
