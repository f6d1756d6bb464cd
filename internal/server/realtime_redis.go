package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	errMissingRedisClient  = errors.New("redis broker: client required")
	errMissingRedisChannel = errors.New("redis broker: channel required")
)

// RedisBrokerConfig configures cross-instance change fan-out over Redis pub/sub.
type RedisBrokerConfig struct {
	Client  *redis.Client
	Channel string
	Logger  *zap.Logger
}

// RedisBroker publishes change notifications to a Redis channel and relays
// everything received on that channel to the subscribers of this process.
type RedisBroker struct {
	client  *redis.Client
	channel string
	local   *RealtimeDispatcher
	logger  *zap.Logger
}

type redisEnvelope struct {
	UserID      string    `json:"userId"`
	EventType   string    `json:"eventType"`
	DocumentIDs []string  `json:"documentIds"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
}

// NewRedisBroker validates the configuration and constructs a RedisBroker. Start
// must run before messages published by other instances are relayed.
func NewRedisBroker(cfg RedisBrokerConfig) (*RedisBroker, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		return nil, errMissingRedisChannel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{
		client:  cfg.Client,
		channel: channel,
		local:   NewRealtimeDispatcher(),
		logger:  logger,
	}, nil
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Start subscribes to the channel and relays messages until ctx ends. It
// returns once the subscription is confirmed.
func (b *RedisBroker) Start(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	messages := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case received, ok := <-messages:
				if !ok {
					return
				}
				b.relay(received.Payload)
			}
		}
	}()
	return nil
}

// Publish sends the message to every instance listening on the channel, this one included.
func (b *RedisBroker) Publish(ctx context.Context, message RealtimeMessage) error {
	payload, err := json.Marshal(redisEnvelope{
		UserID:      message.UserID,
		EventType:   message.EventType,
		DocumentIDs: message.DocumentIDs,
		Timestamp:   message.Timestamp,
		Source:      realtimeSourceBackend,
	})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe registers a local stream for userID.
func (b *RedisBroker) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	return b.local.Subscribe(ctx, userID)
}

func (b *RedisBroker) relay(payload string) {
	var envelope redisEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		b.logger.Warn("discarding malformed realtime payload", zap.String("channel", b.channel), zap.Error(err))
		return
	}
	b.local.deliver(RealtimeMessage{
		UserID:      envelope.UserID,
		EventType:   envelope.EventType,
		DocumentIDs: envelope.DocumentIDs,
		Timestamp:   envelope.Timestamp,
	})
}
