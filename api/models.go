package api

import (
	"github.com/carelink/wardchat/chat"
)

// Event types sent to stream subscribers.
const (
	EventSnapshot = "snapshot"
	EventMessage  = "message"
	EventRead     = "read"
)

// An Event is a change to a group's messages. Snapshot events carry the
// group's recent history; message and read events carry the message that
// was created or whose read receipts changed.
type Event struct {
	Type     string         `json:"type"`
	GroupID  string         `json:"group_id"`
	Message  *chat.Message  `json:"message,omitempty"`
	Messages []chat.Message `json:"messages,omitempty"`
}

// normalize makes a message safe to encode: read receipts encode as an
// empty list rather than null.
func normalize(m chat.Message) chat.Message {
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	return m
}

func normalizeAll(msgs []chat.Message) []chat.Message {
	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		out[i] = normalize(m)
	}
	return out
}
