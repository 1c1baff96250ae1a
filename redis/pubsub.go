package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/carelink/wardchat/api"
)

const eventPrefix = "groupchat"

func channel(groupID string) string {
	return fmt.Sprintf("%s:%s", eventPrefix, groupID)
}

// Publish sends the event to every subscriber of its group.
func (r *Redis) Publish(ctx context.Context, ev api.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.cli.Publish(ctx, channel(ev.GroupID), b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe calls handler for every event published to the group. It returns
// once the subscription is confirmed by the server. Call stop to unsubscribe.
func (r *Redis) Subscribe(ctx context.Context, groupID string, handler func(api.Event)) (stop func(), err error) {
	ps := r.cli.Subscribe(ctx, channel(groupID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range ps.Channel() {
			var ev api.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.Logger.Warn("Dropping malformed event", "channel", msg.Channel, "error", err.Error())
				continue
			}
			handler(ev)
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			ps.Close()
			wg.Wait()
		})
	}
	unregister := context.AfterFunc(ctx, unsubscribe)
	return func() {
		unregister()
		unsubscribe()
	}, nil
}
