package bus

import (
	"context"
	"testing"
	"time"
)

func TestSessionKey(t *testing.T) {
	msg := InboundMessage{Channel: "telegram", ChatID: "42"}
	if got := msg.SessionKey(); got != "telegram:42" {
		t.Errorf("SessionKey = %q", got)
	}
}

func TestDispatchOutbound(t *testing.T) {
	b := NewMessageBus(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan OutboundMessage, 2)
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) {
		received <- msg
	})

	go b.DispatchOutbound(ctx)

	// no subscriber: dropped, dispatch keeps running
	b.Outbound <- OutboundMessage{Channel: "discord", ChatID: "1", Content: "lost"}
	b.Outbound <- OutboundMessage{Channel: "telegram", ChatID: "42", Content: "hola"}

	select {
	case msg := <-received:
		if msg.ChatID != "42" || msg.Content != "hola" {
			t.Errorf("got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the message")
	}

	select {
	case msg := <-received:
		t.Fatalf("unexpected extra delivery: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
