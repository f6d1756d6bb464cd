package server

import (
	"context"
	"testing"
	"time"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	message := RealtimeMessage{
		UserID:      "user-1",
		EventType:   RealtimeEventDocumentsChanged,
		DocumentIDs: []string{"doc-a", "doc-b"},
		Timestamp:   time.Now().UTC(),
	}
	if err := dispatcher.Publish(ctx, message); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case received := <-stream:
		if received.EventType != RealtimeEventDocumentsChanged {
			t.Fatalf("expected event type %s, got %s", RealtimeEventDocumentsChanged, received.EventType)
		}
		if len(received.DocumentIDs) != 2 {
			t.Fatalf("expected 2 document ids, got %d", len(received.DocumentIDs))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestRealtimeDispatcherIsolatedByUser(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, "user-2")
	defer cleanup()

	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "user-3")
	defer otherCleanup()

	_ = dispatcher.Publish(ctx, RealtimeMessage{
		UserID:      "user-3",
		EventType:   RealtimeEventDocumentsChanged,
		DocumentIDs: []string{"doc-c"},
		Timestamp:   time.Now().UTC(),
	})

	select {
	case <-userStream:
		t.Fatal("did not expect realtime message for unrelated user")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.UserID != "user-3" {
			t.Fatalf("expected user-3, received %s", msg.UserID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for subscribed user")
	}
}

func TestRealtimeDispatcherStopsDeliveringAfterCleanup(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx := context.Background()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-4")
	cleanup()
	cleanup()

	_ = dispatcher.Publish(ctx, RealtimeMessage{
		UserID:    "user-4",
		EventType: RealtimeEventDocumentsChanged,
		Timestamp: time.Now().UTC(),
	})

	select {
	case <-stream:
		t.Fatal("did not expect delivery after cleanup")
	case <-time.After(100 * time.Millisecond):
	}
}
