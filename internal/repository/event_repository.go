package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// EventRepository publishes JSON events on Redis pub/sub channels.
type EventRepository struct {
	client *redis.Client
}

// NewEventRepository constructs repository.
func NewEventRepository(client *redis.Client) *EventRepository {
	return &EventRepository{client: client}
}

// Publish encodes payload and sends it to channel. It returns the number of
// subscribers that received it.
func (r *EventRepository) Publish(ctx context.Context, channel string, payload interface{}) (int64, error) {
	if r.client == nil {
		return 0, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event for %s: %w", channel, err)
	}
	n, err := r.client.Publish(ctx, channel, body).Result()
	if err != nil {
		return 0, fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return n, nil
}
