package chat

import (
	"fmt"
	"slices"
	"time"
)

// A Role identifies the kind of hospital user that sent a message.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RoleNurse   Role = "nurse"
	RolePatient Role = "patient"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RoleNurse, RolePatient:
		return true
	}
	return false
}

// ParseRole returns the role named by s.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Kind tells a message confirmed by the backend apart from a local placeholder.
type Kind int

const (
	// Confirmed messages were delivered by the repository and carry a server id.
	Confirmed Kind = iota
	// Pending messages were created locally and wait for confirmation.
	Pending
)

func (k Kind) String() string {
	switch k {
	case Confirmed:
		return "confirmed"
	case Pending:
		return "pending"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// A Message is a single group chat message.
//
// A zero CreatedAt means the message has not been stamped yet. Such messages
// sort after every stamped message.
type Message struct {
	ID         string    `json:"id"`
	GroupID    string    `json:"group_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	SenderRole Role      `json:"sender_role"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
	ReadBy     []string  `json:"read_by"`
	Kind       Kind      `json:"-"`
}

// Stamped reports whether the message carries a timestamp.
func (m Message) Stamped() bool {
	return !m.CreatedAt.IsZero()
}

// ReadByViewer reports whether viewerID is in the message's read set.
func (m Message) ReadByViewer(viewerID string) bool {
	return slices.Contains(m.ReadBy, viewerID)
}

// WithReader returns a copy of m with viewerID added to its read set.
func (m Message) WithReader(viewerID string) Message {
	if m.ReadByViewer(viewerID) {
		return m
	}
	readBy := make([]string, len(m.ReadBy), len(m.ReadBy)+1)
	copy(readBy, m.ReadBy)
	m.ReadBy = append(readBy, viewerID)
	return m
}

// A Group is a chat group. The sync core only reads it.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	MemberIDs   []string  `json:"member_ids"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasMember reports whether userID belongs to the group.
func (g Group) HasMember(userID string) bool {
	return slices.Contains(g.MemberIDs, userID)
}

// A Sender identifies the local user of a chat session.
type Sender struct {
	ID   string
	Name string
	Role Role
}

// Outgoing is what a session hands to the repository when sending.
type Outgoing struct {
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	SenderRole Role   `json:"sender_role"`
	Text       string `json:"text"`
}
