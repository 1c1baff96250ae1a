// Package natsbroker fans group chat events out over NATS JetStream.
package natsbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carelink/wardchat/api"
)

const (
	// StreamName is the JetStream stream that holds group chat events.
	StreamName    = "GROUPCHAT"
	subjectPrefix = "groupchat"
)

// Broker publishes and consumes api events through JetStream.
type Broker struct {
	logger *slog.Logger
	nc     *nats.Conn
	js     jetstream.JetStream
}

// Connect connects to NATS and makes sure the event stream exists.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Broker, error) {
	nc, err := nats.Connect(url, nats.Name("wardchat-api"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	stream, err := js.Stream(ctx, StreamName)
	if err != nil {
		logger.Info("Stream not found, creating it", "stream", StreamName)
		stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        StreamName,
			Description: "Group chat message and read events",
			Subjects:    []string{subjectPrefix + ".*"},
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create stream %q: %w", StreamName, err)
		}
	}
	logger.Info("Using JetStream stream", "stream", stream.CachedInfo().Config.Name)

	return &Broker{logger: logger, nc: nc, js: js}, nil
}

// Close drains the connection.
func (b *Broker) Close() error {
	return b.nc.Drain()
}

func subject(groupID string) string {
	return fmt.Sprintf("%s.%s", subjectPrefix, groupID)
}

// Publish stores the event on the group's subject.
func (b *Broker) Publish(ctx context.Context, ev api.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := b.js.Publish(ctx, subject(ev.GroupID), data); err != nil {
		return fmt.Errorf("publish to %q: %w", subject(ev.GroupID), err)
	}
	return nil
}

// Subscribe creates an ephemeral consumer that delivers events published to
// the group from now on. Call stop to remove it.
func (b *Broker) Subscribe(ctx context.Context, groupID string, handler func(api.Event)) (stop func(), err error) {
	subj := subject(groupID)
	cons, err := b.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject:     subj,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckNonePolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for %q: %w", subj, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var ev api.Event
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			b.logger.Warn("Dropping malformed event", "subject", msg.Subject(), "error", err.Error())
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("consume %q: %w", subj, err)
	}

	unregister := context.AfterFunc(ctx, cc.Stop)
	return func() {
		unregister()
		cc.Stop()
	}, nil
}
