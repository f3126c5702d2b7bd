package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisPublisher struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisPublisher(client *redis.Client, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, log: log}
}

func (p *RedisPublisher) Publish(ctx context.Context, stream string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, stream, string(data)).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", apperr.ErrTransportUnavailable, stream, err)
	}
	return nil
}

const defaultHandshakeTimeout = 5 * time.Second

type RedisSubscriber struct {
	client           *redis.Client
	log              *zap.Logger
	handshakeTimeout time.Duration
}

func NewRedisSubscriber(client *redis.Client, log *zap.Logger) *RedisSubscriber {
	return &RedisSubscriber{client: client, log: log, handshakeTimeout: defaultHandshakeTimeout}
}

// Subscribe returns once Redis has confirmed the subscription, so a publish
// issued after Subscribe returns is never missed. ctx bounds the listener's
// lifetime; the confirmation itself must arrive within the handshake timeout.
func (s *RedisSubscriber) Subscribe(ctx context.Context, stream string, handler func(Event)) error {
	handshakeCtx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	pubsub := s.client.Subscribe(handshakeCtx, stream)
	if _, err := pubsub.Receive(handshakeCtx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("%w: subscribe %s: %v", apperr.ErrTransportUnavailable, stream, err)
	}
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					s.log.Error("failed to unmarshal event", zap.String("stream", stream), zap.Error(err))
					continue
				}
				handler(event)
			}
		}
	}()

	return nil
}
