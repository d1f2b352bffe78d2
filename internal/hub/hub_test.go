package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tempora-app/tempora/internal/domain"
)

func recvOrTimeout(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publish")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func snapshotPayload(conversationID string) []byte {
	data, _ := json.Marshal(domain.NewSnapshotEvent(domain.Conversation{ConversationID: conversationID}))
	return data
}

// joinLive registers a connection and activates it with an empty snapshot.
func joinLive(t *testing.T, h *Hub, conn *Connection) {
	t.Helper()
	h.Register(conn)
	if err := h.Activate(conn, snapshotPayload(conn.ConversationID), 0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	// Discard the snapshot frame.
	recvOrTimeout(t, conn.Send)
}

// A subscriber receives every publish for its conversation in publish order
// and never receives publishes from other conversations.
func TestHubPublishOrderAndIsolation(t *testing.T) {
	h := NewHub()
	go h.Run()

	sub := h.NewConnection(nil, "conv_a")
	other := h.NewConnection(nil, "conv_b")
	joinLive(t, h, sub)
	joinLive(t, h, other)

	for i := 0; i < 5; i++ {
		msg := domain.NewMessageEvent(domain.Message{MessageID: "m", Seq: int64(i + 1)})
		if err := h.PublishJSON("conv_a", msg); err != nil {
			t.Fatalf("PublishJSON failed: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		var event domain.MessageEvent
		if err := json.Unmarshal(recvOrTimeout(t, sub.Send), &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.Type != domain.EventConversationMessage {
			t.Fatalf("unexpected event type: %s", event.Type)
		}
		if event.Message.Seq != int64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, event.Message.Seq)
		}
	}

	select {
	case data := <-other.Send:
		t.Fatalf("subscriber of conv_b received foreign publish: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

// Events published between joining the group and activation are buffered and
// replayed after the snapshot, minus those the snapshot already covers.
func TestHubActivateReplaysBufferedEvents(t *testing.T) {
	h := NewHub()
	go h.Run()

	sub := h.NewConnection(nil, "conv_a")
	h.Register(sub)

	for seq := int64(4); seq <= 6; seq++ {
		if err := h.PublishJSON("conv_a", domain.NewMessageEvent(domain.Message{Seq: seq})); err != nil {
			t.Fatalf("PublishJSON failed: %v", err)
		}
	}
	if err := h.PublishJSON("conv_a", domain.NewNameEvent("conv_a", "Lunch")); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}
	// Buffered delivery is asynchronous; nothing reaches Send pre-activation.
	waitFor(t, func() bool {
		sub.stateMu.Lock()
		defer sub.stateMu.Unlock()
		return len(sub.buffered) == 4
	})
	if len(sub.Send) != 0 {
		t.Fatal("received events before activation")
	}

	// Snapshot already contains seqs 4 and 5.
	if err := h.Activate(sub, snapshotPayload("conv_a"), 5); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	var snapshot domain.SnapshotEvent
	if err := json.Unmarshal(recvOrTimeout(t, sub.Send), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.Type != domain.EventConversationSnapshot {
		t.Fatalf("expected snapshot first, got %s", snapshot.Type)
	}

	var event domain.MessageEvent
	if err := json.Unmarshal(recvOrTimeout(t, sub.Send), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Message.Seq != 6 {
		t.Fatalf("expected only seq 6 replayed, got %d", event.Message.Seq)
	}

	var name domain.NameEvent
	if err := json.Unmarshal(recvOrTimeout(t, sub.Send), &name); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if name.Type != domain.EventConversationName || name.Message.Name != "Lunch" {
		t.Fatalf("expected buffered rename after messages, got %+v", name)
	}

	// Live from here on.
	if err := h.PublishJSON("conv_a", domain.NewMessageEvent(domain.Message{Seq: 7})); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}
	if err := json.Unmarshal(recvOrTimeout(t, sub.Send), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Message.Seq != 7 {
		t.Fatalf("expected live seq 7, got %d", event.Message.Seq)
	}
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	h := NewHub()
	go h.Run()

	sub := h.NewConnection(nil, "conv_a")
	h.Register(sub)

	h.Unregister(sub)
	waitFor(t, func() bool { return h.SubscriberCount("conv_a") == 0 })

	// Send channel is closed on unregister.
	if _, ok := <-sub.Send; ok {
		t.Fatal("expected closed send channel")
	}

	// Activation after unregister must fail, not write to a closed channel.
	if err := h.Activate(sub, snapshotPayload("conv_a"), 0); err == nil {
		t.Fatal("expected Activate to fail on an unregistered connection")
	}

	// Publishing to an empty group must not block.
	done := make(chan struct{})
	go func() {
		h.Publish("conv_a", []byte("{}"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish to empty group blocked")
	}
}

// A slow subscriber with a full buffer is dropped without blocking siblings.
func TestHubSlowSubscriberDropped(t *testing.T) {
	h := NewHub()
	go h.Run()

	slow := h.NewConnection(nil, "conv_a")
	fast := h.NewConnection(nil, "conv_a")
	joinLive(t, h, slow)
	joinLive(t, h, fast)

	// Keep the fast subscriber drained so only slow overflows.
	go func() {
		for range fast.Send {
		}
	}()

	// Overflow the slow subscriber's buffer; nobody drains slow.Send.
	for i := 0; i < cap(slow.Send)+10; i++ {
		h.Publish("conv_a", []byte(`{"n":1}`))
	}

	waitFor(t, func() bool { return h.SubscriberCount("conv_a") == 1 })
}
