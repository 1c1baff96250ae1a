package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/carelink/wardchat/chat"
)

// A message represents a message in the database.
type message struct {
	ID          string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	GroupID     string    `bun:",notnull"`
	SenderID    string    `bun:",notnull"`
	SenderName  string    `bun:",notnull"`
	SenderRole  string    `bun:",notnull"`
	MessageText string    `bun:"message_text,notnull"`
	CreatedAt   time.Time `bun:",nullzero,default:now()"`
}

// messageWithReads is a message row joined with the ids of the users that
// read it, in the order they read it.
type messageWithReads struct {
	message `bun:",extend"`

	ReadBy []string `bun:",array"`
}

// A messageRead is a read receipt. A viewer reads a message at most once.
type messageRead struct {
	bun.BaseModel `bun:"table:message_reads,alias:mr"`

	MessageID string    `bun:",pk,type:uuid"`
	ViewerID  string    `bun:",pk"`
	ReadAt    time.Time `bun:",nullzero,default:now()"`
}

// A group is a chat group with its member list.
type group struct {
	bun.BaseModel `bun:"table:chat_groups,alias:g"`

	ID          string    `bun:",pk"`
	Name        string    `bun:",notnull"`
	Description string    `bun:",notnull,default:''"`
	MemberIDs   []string  `bun:",array"`
	UpdatedAt   time.Time `bun:",nullzero,default:now()"`
}

func (m message) ChatMessage() chat.Message {
	return chat.Message{
		ID:         m.ID,
		GroupID:    m.GroupID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		SenderRole: chat.Role(m.SenderRole),
		Text:       m.MessageText,
		CreatedAt:  m.CreatedAt,
		Kind:       chat.Confirmed,
	}
}

func (m messageWithReads) ChatMessage() chat.Message {
	msg := m.message.ChatMessage()
	msg.ReadBy = m.ReadBy
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	return msg
}

func (g group) ChatGroup() chat.Group {
	members := g.MemberIDs
	if members == nil {
		members = []string{}
	}
	return chat.Group{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		MemberIDs:   members,
		UpdatedAt:   g.UpdatedAt,
	}
}
