package server

import (
	"context"
	"sync"
	"time"
)

const (
	RealtimeEventDocumentsChanged = "documents-changed"
	realtimeEventHeartbeat        = "heartbeat"
	realtimeEventReady            = "ready"
	realtimeSourceBackend         = "folio-backend"
	realtimeBufferSize            = 16
)

// RealtimeMessage tells one user that documents changed and the tree should be refetched.
type RealtimeMessage struct {
	UserID      string
	EventType   string
	DocumentIDs []string
	Timestamp   time.Time
}

// ChangeBroker delivers realtime messages to the streams of the addressed user.
type ChangeBroker interface {
	Publish(ctx context.Context, message RealtimeMessage) error
	Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func())
}

// RealtimeDispatcher fans messages out to the subscribers of this process.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
	once   sync.Once
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
	}
}

// Subscribe registers a stream for userID until ctx ends or the returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{stream: make(chan RealtimeMessage, d.bufferSize)}
	d.registerSubscriber(userID, subscriber)
	cleanup := func() {
		subscriber.once.Do(func() {
			d.unregisterSubscriber(userID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message locally. Slow subscribers drop messages rather than block writers.
func (d *RealtimeDispatcher) Publish(_ context.Context, message RealtimeMessage) error {
	d.deliver(message)
	return nil
}

func (d *RealtimeDispatcher) deliver(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers[message.UserID] {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) registerSubscriber(userID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[userID]
	if subscribers == nil {
		return
	}
	delete(subscribers, subscriberID)
	if len(subscribers) == 0 {
		delete(d.subscribers, userID)
	}
}
