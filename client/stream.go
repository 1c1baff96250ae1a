package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carelink/wardchat/api"
	"github.com/carelink/wardchat/chat"
)

// Subscribe opens the group's websocket stream. Dial failures are returned
// directly; failures after that end the subscription.
func (c *Client) Subscribe(ctx context.Context, groupID string) (chat.Subscription, error) {
	u := c.groupURL(groupID, "stream")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial stream: %w (http status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	s := &subscription{
		conn:    conn,
		updates: make(chan []chat.Message),
		done:    make(chan struct{}),
		index:   make(map[string]int),
	}
	go s.run()
	return s, nil
}

// subscription keeps the messages it has seen on the stream and emits all of
// them after every event.
type subscription struct {
	conn    *websocket.Conn
	updates chan []chat.Message
	done    chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error

	msgs  []chat.Message
	index map[string]int
}

func (s *subscription) Updates() <-chan []chat.Message { return s.updates }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
		s.conn.Close()
	})
	return nil
}

func deadline() time.Time {
	return time.Now().Add(time.Second)
}

func (s *subscription) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscription) run() {
	defer close(s.updates)
	for {
		var ev api.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			if !s.closing() {
				s.mu.Lock()
				s.err = fmt.Errorf("read stream: %w", err)
				s.mu.Unlock()
				s.conn.Close()
			}
			return
		}

		switch ev.Type {
		case api.EventSnapshot:
			s.msgs = s.msgs[:0]
			clear(s.index)
			for _, m := range ev.Messages {
				s.upsert(m)
			}
		case api.EventMessage, api.EventRead:
			if ev.Message == nil {
				continue
			}
			s.upsert(*ev.Message)
		default:
			continue
		}

		select {
		case s.updates <- s.snapshot():
		case <-s.done:
			return
		}
	}
}

func (s *subscription) upsert(m chat.Message) {
	m.Kind = chat.Confirmed
	if i, ok := s.index[m.ID]; ok {
		s.msgs[i] = m
		return
	}
	s.index[m.ID] = len(s.msgs)
	s.msgs = append(s.msgs, m)
}

func (s *subscription) snapshot() []chat.Message {
	out := make([]chat.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}
