// Package notify publishes lifecycle notifications for events and
// reservations. Callers log a failed publish and carry on; it never undoes
// the operation that produced it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Shivanand-hulikatti/event-reservations/internal/clock"
)

// Type names a lifecycle transition.
type Type string

const (
	EventPublished       Type = "event.published"
	EventCancelled       Type = "event.cancelled"
	EventFinished        Type = "event.finished"
	ReservationCreated   Type = "reservation.created"
	ReservationConfirmed Type = "reservation.confirmed"
	ReservationCancelled Type = "reservation.cancelled"
)

// Envelope is the JSON document written to the channel.
type Envelope struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Notifier publishes a notification of type t with the given payload.
type Notifier interface {
	Notify(ctx context.Context, t Type, payload any) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Type, any) error { return nil }

// publisher is the subset of the go-redis client used here.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes envelopes to a Redis pub/sub channel.
type RedisNotifier struct {
	client  publisher
	channel string
	clock   clock.Clock
}

// NewRedisNotifier returns a notifier writing to channel through client.
func NewRedisNotifier(client publisher, channel string, clk clock.Clock) *RedisNotifier {
	if clk == nil {
		clk = clock.Real()
	}
	return &RedisNotifier{client: client, channel: channel, clock: clk}
}

func (n *RedisNotifier) Notify(ctx context.Context, t Type, payload any) error {
	env := Envelope{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: n.clock.Now(),
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", t, err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s notification: %w", t, err)
	}
	return nil
}

// NewRedisClient opens a go-redis client and checks connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// EventPayload describes an event transition.
type EventPayload struct {
	EventID     string `json:"event_id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	OrganizerID string `json:"organizer_id"`
	ActorID     string `json:"actor_id,omitempty"`
}

// ReservationPayload describes a reservation transition.
type ReservationPayload struct {
	ReservationID string `json:"reservation_id"`
	Code          string `json:"code"`
	EventID       string `json:"event_id"`
	UserID        string `json:"user_id"`
	Seats         int    `json:"seats"`
	Status        string `json:"status"`
	ActorID       string `json:"actor_id,omitempty"`
}
