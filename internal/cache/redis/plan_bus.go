package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// planChannel is the Pub/Sub channel carrying fresh plan IDs from the
// scanner to executing processes.
const planChannel = "plans:new"

// PlanBus hands plan IDs from the scan loop to the execution loop over Redis
// Pub/Sub, so scanning and executing can run in separate processes.
type PlanBus struct {
	rdb *redis.Client
}

// NewPlanBus creates a PlanBus backed by the given Client.
func NewPlanBus(c *Client) *PlanBus {
	return &PlanBus{rdb: c.Underlying()}
}

// PublishPlan announces a freshly persisted plan.
func (pb *PlanBus) PublishPlan(ctx context.Context, planID string) error {
	if err := pb.rdb.Publish(ctx, planChannel, planID).Err(); err != nil {
		return fmt.Errorf("redis: publish plan %s: %w", planID, err)
	}
	return nil
}

// SubscribePlans returns a channel emitting plan IDs as they are announced.
// The subscription closes when the context is cancelled; the returned
// channel is closed at that point as well.
func (pb *PlanBus) SubscribePlans(ctx context.Context) (<-chan string, error) {
	pubsub := pb.rdb.Subscribe(ctx, planChannel)

	// Confirm the subscription before handing out the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe plans: %w", err)
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
