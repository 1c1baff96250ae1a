package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/carelink/wardchat/chat"
)

// A message represents a cached message. Read receipts are stored as a JSON
// list.
type message struct {
	ID         string `redis:"id"`
	GroupID    string `redis:"group_id"`
	SenderID   string `redis:"sender_id"`
	SenderName string `redis:"sender_name"`
	SenderRole string `redis:"sender_role"`
	Text       string `redis:"text"`
	CreatedAt  int64  `redis:"created_at"`
	ReadBy     string `redis:"read_by"`
}

func toRedisMessage(msg chat.Message) (message, error) {
	m := message{
		ID:         msg.ID,
		GroupID:    msg.GroupID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		SenderRole: string(msg.SenderRole),
		Text:       msg.Text,
	}
	if msg.Stamped() {
		m.CreatedAt = msg.CreatedAt.UnixNano()
	}
	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	b, err := json.Marshal(readBy)
	if err != nil {
		return message{}, fmt.Errorf("marshal read receipts: %w", err)
	}
	m.ReadBy = string(b)
	return m, nil
}

// ChatMessage converts the cached message to a chat message.
func (m message) ChatMessage() (chat.Message, error) {
	cm := chat.Message{
		ID:         m.ID,
		GroupID:    m.GroupID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		SenderRole: chat.Role(m.SenderRole),
		Text:       m.Text,
		ReadBy:     []string{},
		Kind:       chat.Confirmed,
	}
	if m.CreatedAt != 0 {
		cm.CreatedAt = time.Unix(0, m.CreatedAt).UTC()
	}
	if m.ReadBy != "" {
		if err := json.Unmarshal([]byte(m.ReadBy), &cm.ReadBy); err != nil {
			return chat.Message{}, fmt.Errorf("unmarshal read receipts: %w", err)
		}
	}
	return cm, nil
}
