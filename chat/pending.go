package chat

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// A PendingQueue holds messages the local user sent that the backend has not
// confirmed yet. It is not safe for concurrent use; Session guards it.
type PendingQueue struct {
	groupID string
	now     func() time.Time
	entries []Message
}

// NewPendingQueue returns an empty queue for a group. A nil clock defaults to
// time.Now.
func NewPendingQueue(groupID string, now func() time.Time) *PendingQueue {
	if now == nil {
		now = time.Now
	}
	return &PendingQueue{groupID: groupID, now: now}
}

// Enqueue adds a placeholder for text sent by sender and returns its id.
func (q *PendingQueue) Enqueue(sender Sender, text string) string {
	id := "local-" + uuid.NewString()
	q.entries = append(q.entries, Message{
		ID:         id,
		GroupID:    q.groupID,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		SenderRole: sender.Role,
		Text:       text,
		CreatedAt:  q.now(),
		Kind:       Pending,
	})
	return id
}

// Resolve removes the entry once it is confirmed. Resolving an unknown id is
// a no-op and reports false.
func (q *PendingQueue) Resolve(id string) bool {
	_, ok := q.remove(id)
	return ok
}

// Fail removes the entry after a failed send and returns its original text.
func (q *PendingQueue) Fail(id string) (string, bool) {
	m, ok := q.remove(id)
	return m.Text, ok
}

// Entries returns a copy of the queued entries in insertion order.
func (q *PendingQueue) Entries() []Message {
	return slices.Clone(q.entries)
}

// Len returns the number of queued entries.
func (q *PendingQueue) Len() int {
	return len(q.entries)
}

func (q *PendingQueue) remove(id string) (Message, bool) {
	i := slices.IndexFunc(q.entries, func(m Message) bool { return m.ID == id })
	if i < 0 {
		return Message{}, false
	}
	m := q.entries[i]
	q.entries = slices.Delete(q.entries, i, i+1)
	return m, true
}
