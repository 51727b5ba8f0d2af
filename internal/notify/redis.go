package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel is the Redis pub/sub channel carrying a clinic's intents.
func Channel(clinicID uuid.UUID) string {
	return fmt.Sprintf("clinic:%s:notifications", clinicID.String())
}

type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, in Intent) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(in.ClinicID), payload).Err(); err != nil {
		return fmt.Errorf("publish intent: %w", err)
	}
	return nil
}

// Subscribe streams a clinic's intents until ctx is cancelled. Malformed
// payloads are logged and skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context, clinicID uuid.UUID) (<-chan Intent, error) {
	pubsub := p.client.Subscribe(ctx, Channel(clinicID))
	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(clinicID), err)
	}

	out := make(chan Intent, 100)
	go func() {
		defer func() {
			_ = pubsub.Close()
			close(out)
		}()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var in Intent
				if err := json.Unmarshal([]byte(msg.Payload), &in); err != nil {
					p.logger.Warn("dropping malformed notification", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- in:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
