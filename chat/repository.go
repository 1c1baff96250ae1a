package chat

import (
	"context"
	"errors"
)

var (
	ErrEmptyMessage  = errors.New("message is empty")
	ErrStreamClosed  = errors.New("message stream closed")
	ErrSessionClosed = errors.New("session closed")
)

// A Repository provides the messages of a group. Implementations talk to
// the message backend.
type Repository interface {
	// Subscribe opens a live subscription to the group's messages. Each
	// emission is the full set of messages known to the subscription, in no
	// particular order.
	Subscribe(ctx context.Context, groupID string) (Subscription, error)
	// FetchOnce returns the group's messages at the time of the call.
	FetchOnce(ctx context.Context, groupID string) ([]Message, error)
	// Send stores a message and returns it with its server id and timestamp.
	Send(ctx context.Context, groupID string, out Outgoing) (Message, error)
	// MarkRead records that viewerID has read the message.
	MarkRead(ctx context.Context, groupID, messageID, viewerID string) error
}

// A Subscription delivers snapshots of a group's messages.
type Subscription interface {
	// Updates is closed when the subscription ends.
	Updates() <-chan []Message
	// Err returns why the subscription ended. It is only meaningful once
	// Updates has been closed; nil means it was closed by the caller.
	Err() error
	Close() error
}
