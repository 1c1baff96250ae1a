package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/neilotoole/slogt"

	"github.com/carelink/wardchat/chat"
)

var ward = chat.Group{
	ID:        "g1",
	Name:      "Ward 4B",
	MemberIDs: []string{"doc", "nurse", "pat"},
	UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
}

func wardGroup(t *testing.T, groupID string) (chat.Group, error) {
	if groupID != "g1" {
		return chat.Group{}, ErrGroupNotFound
	}
	return ward, nil
}

func TestAPI_getGroup(t *testing.T) {
	tests := []struct {
		name       string
		groupID    string
		db         *testdb
		wantStatus int
		wantBody   string
	}{
		{
			name:    "OK",
			groupID: "g1",
			db: &testdb{
				getGroup: wardGroup,
			},
			wantStatus: 200,
			wantBody: `{
				"id": "g1",
				"name": "Ward 4B",
				"description": "",
				"member_ids": ["doc", "nurse", "pat"],
				"updated_at": "2024-01-01T00:00:00Z"
			}`,
		},
		{
			name:    "NotFound",
			groupID: "nope",
			db: &testdb{
				getGroup: wardGroup,
			},
			wantStatus: 404,
			wantBody: `{
				"error": "Group not found"
			}`,
		},
		{
			name:    "DBError",
			groupID: "g1",
			db: &testdb{
				getGroup: func(t *testing.T, groupID string) (chat.Group, error) {
					return chat.Group{}, errors.New("something went wrong")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Could not get group"
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.db.T = t
			api := &API{
				DB:     tt.db,
				Logger: slogt.New(t),
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/groups/" + tt.groupID)
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_listMessages(t *testing.T) {
	tests := []struct {
		name       string
		page       string
		db         *testdb
		cache      *testcache
		wantStatus int
		wantBody   string
	}{
		{
			name: "DBError",
			cache: &testcache{
				listMessages: func(t *testing.T, groupID string) ([]chat.Message, error) {
					return nil, nil
				},
			},
			db: &testdb{
				listMessages: func(t *testing.T, limit, offset int, excludeMsgIDs ...string) ([]chat.Message, error) {
					return nil, errors.New("something went wrong")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Could not list messages"
			}`,
		},
		{
			name: "CacheError",
			cache: &testcache{
				listMessages: func(t *testing.T, groupID string) ([]chat.Message, error) {
					return nil, errors.New("something went wrong")
				},
			},
			db: &testdb{
				listMessages: func(t *testing.T, limit, offset int, excludeMsgIDs ...string) ([]chat.Message, error) {
					return nil, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"messages": []
			}`,
		},
		{
			name: "Mixed",
			cache: &testcache{
				listMessages: func(t *testing.T, groupID string) ([]chat.Message, error) {
					if groupID != "g1" {
						t.Errorf("Got group %q, want g1", groupID)
					}
					return []chat.Message{
						{
							ID:         "1",
							GroupID:    "g1",
							SenderID:   "doc",
							SenderName: "Dr. Adams",
							SenderRole: chat.RoleDoctor,
							Text:       "Hello",
							CreatedAt:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
							ReadBy:     []string{"nurse"},
						},
					}, nil
				},
			},
			db: &testdb{
				listMessages: func(t *testing.T, limit, offset int, excludeMsgIDs ...string) ([]chat.Message, error) {
					if limit != pageSize-1 || offset != 0 {
						t.Errorf("Got limit %d offset %d, want %d 0", limit, offset, pageSize-1)
					}
					if diff := cmp.Diff([]string{"1"}, excludeMsgIDs); diff != "" {
						t.Errorf("Excluded ids mismatch (-want +got):\n%s", diff)
					}
					return []chat.Message{
						{
							ID:         "2",
							GroupID:    "g1",
							SenderID:   "pat",
							SenderName: "Pat",
							SenderRole: chat.RolePatient,
							Text:       "World",
							CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
						},
					}, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"messages": [
					{
						"id": "1",
						"group_id": "g1",
						"sender_id": "doc",
						"sender_name": "Dr. Adams",
						"sender_role": "doctor",
						"text": "Hello",
						"created_at": "2024-01-02T00:00:00Z",
						"read_by": ["nurse"]
					},
					{
						"id": "2",
						"group_id": "g1",
						"sender_id": "pat",
						"sender_name": "Pat",
						"sender_role": "patient",
						"text": "World",
						"created_at": "2024-01-01T00:00:00Z",
						"read_by": []
					}
				]
			}`,
		},
		{
			name: "SecondPageSkipsCache",
			page: "2",
			db: &testdb{
				listMessages: func(t *testing.T, limit, offset int, excludeMsgIDs ...string) ([]chat.Message, error) {
					if limit != pageSize || offset != pageSize {
						t.Errorf("Got limit %d offset %d, want %d %d", limit, offset, pageSize, pageSize)
					}
					if len(excludeMsgIDs) != 0 {
						t.Errorf("Got excluded ids %v, want none", excludeMsgIDs)
					}
					return nil, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"messages": []
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.db == nil {
				tt.db = &testdb{}
			}
			if tt.cache == nil {
				tt.cache = &testcache{}
			}
			tt.db.T = t
			tt.cache.T = t
			api := &API{
				DB:     tt.db,
				Cache:  tt.cache,
				Logger: slogt.New(t),
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			url := srv.URL + "/groups/g1/messages"
			if tt.page != "" {
				url += "?page=" + tt.page
			}
			resp, err := http.Get(url)
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_createMessage(t *testing.T) {
	insertOK := func(t *testing.T, msg chat.Message) (chat.Message, error) {
		if msg.GroupID != "g1" {
			t.Errorf("Got GroupID %q, want g1", msg.GroupID)
		}
		if msg.Text != "hello" {
			t.Errorf("Got Text %q, want hello", msg.Text)
		}
		msg.ID = "1"
		msg.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		return msg, nil
	}
	okBody := `{
		"id": "1",
		"group_id": "g1",
		"sender_id": "nurse",
		"sender_name": "Nurse Joy",
		"sender_role": "nurse",
		"text": "hello",
		"created_at": "2024-01-01T00:00:00Z",
		"read_by": []
	}`

	tests := []struct {
		name        string
		cache       *testcache
		db          *testdb
		broker      *testbroker
		req         string
		wantStatus  int
		wantBody    string
		wantEvents  int
		containsLog string
	}{
		{
			name:       "InvalidJSON",
			req:        `not json`,
			wantStatus: 400,
			wantBody: `{
				"error": "Could not decode request body"
			}`,
		},
		{
			name:       "EmptyText",
			req:        `{"sender_id": "nurse", "sender_role": "nurse", "text": "   "}`,
			wantStatus: 400,
			wantBody: `{
				"error": "Message text is empty"
			}`,
		},
		{
			name:       "UnknownRole",
			req:        `{"sender_id": "nurse", "sender_role": "janitor", "text": "hello"}`,
			wantStatus: 400,
			wantBody: `{
				"error": "Unknown sender role"
			}`,
		},
		{
			name: "NotMember",
			req:  `{"sender_id": "stranger", "sender_role": "nurse", "text": "hello"}`,
			db: &testdb{
				getGroup: wardGroup,
			},
			wantStatus: 403,
			wantBody: `{
				"error": "Sender is not a member of the group"
			}`,
		},
		{
			name: "DBError",
			req:  `{"sender_id": "nurse", "sender_name": "Nurse Joy", "sender_role": "nurse", "text": "hello"}`,
			db: &testdb{
				getGroup: wardGroup,
				insertMessage: func(t *testing.T, msg chat.Message) (chat.Message, error) {
					return chat.Message{}, errors.New("something went wrong")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Could not insert message"
			}`,
		},
		{
			name: "CacheError",
			req:  `{"sender_id": "nurse", "sender_name": "Nurse Joy", "sender_role": "nurse", "text": "hello"}`,
			db: &testdb{
				getGroup:      wardGroup,
				insertMessage: insertOK,
			},
			cache: &testcache{
				insertMessage: func(t *testing.T, msg chat.Message) error {
					return errors.New("something went wrong")
				},
			},
			wantStatus:  201,
			wantBody:    okBody,
			wantEvents:  1,
			containsLog: "Could not cache message",
		},
		{
			name: "PublishError",
			req:  `{"sender_id": "nurse", "sender_name": "Nurse Joy", "sender_role": "nurse", "text": "hello"}`,
			db: &testdb{
				getGroup:      wardGroup,
				insertMessage: insertOK,
			},
			broker: &testbroker{
				publishErr: errors.New("broker down"),
			},
			wantStatus:  201,
			wantBody:    okBody,
			containsLog: "Could not publish message",
		},
		{
			name: "OK",
			req:  `{"sender_id": "nurse", "sender_name": "Nurse Joy", "sender_role": "nurse", "text": "  hello "}`,
			db: &testdb{
				getGroup:      wardGroup,
				insertMessage: insertOK,
			},
			wantStatus: 201,
			wantBody:   okBody,
			wantEvents: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			if tt.db == nil {
				tt.db = &testdb{}
			}
			if tt.cache == nil {
				tt.cache = &testcache{
					insertMessage: func(t *testing.T, msg chat.Message) error { return nil },
				}
			}
			if tt.broker == nil {
				tt.broker = &testbroker{}
			}
			tt.db.T = t
			tt.cache.T = t
			api := &API{
				DB:     tt.db,
				Cache:  tt.cache,
				Broker: tt.broker,
				Logger: slog.New(slog.NewTextHandler(buf, nil)),
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/groups/g1/messages", "application/json", strings.NewReader(tt.req))
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
			checkLog(t, buf, tt.containsLog)

			events := tt.broker.published()
			if len(events) != tt.wantEvents {
				t.Fatalf("Got %d published events, want %d", len(events), tt.wantEvents)
			}
			for _, ev := range events {
				if ev.Type != EventMessage || ev.GroupID != "g1" || ev.Message == nil || ev.Message.ID != "1" {
					t.Errorf("Got event %+v", ev)
				}
			}
		})
	}
}

func TestAPI_markRead(t *testing.T) {
	cached := chat.Message{
		ID:         "m1",
		GroupID:    "g1",
		SenderID:   "doc",
		SenderRole: chat.RoleDoctor,
		Text:       "hello",
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name        string
		req         string
		db          *testdb
		cache       *testcache
		wantStatus  int
		wantBody    string
		wantCached  []string
		wantEvents  int
		containsLog string
	}{
		{
			name:       "MissingViewer",
			req:        `{}`,
			wantStatus: 400,
			wantBody: `{
				"error": "Viewer is required"
			}`,
		},
		{
			name: "UnknownMessage",
			req:  `{"viewer_id": "nurse"}`,
			db: &testdb{
				markRead: func(t *testing.T, groupID, messageID, viewerID string) (chat.Message, error) {
					return chat.Message{}, ErrMessageNotFound
				},
			},
			wantStatus: 404,
			wantBody: `{
				"error": "Message not found"
			}`,
		},
		{
			name: "DBError",
			req:  `{"viewer_id": "nurse"}`,
			db: &testdb{
				markRead: func(t *testing.T, groupID, messageID, viewerID string) (chat.Message, error) {
					return chat.Message{}, errors.New("something went wrong")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Could not mark message read"
			}`,
		},
		{
			name: "UpdatesCache",
			req:  `{"viewer_id": "nurse"}`,
			db: &testdb{
				markRead: func(t *testing.T, groupID, messageID, viewerID string) (chat.Message, error) {
					if groupID != "g1" || messageID != "m1" || viewerID != "nurse" {
						t.Errorf("Got MarkRead(%q, %q, %q)", groupID, messageID, viewerID)
					}
					return cached.WithReader(viewerID), nil
				},
			},
			cache: &testcache{
				getMessage: func(t *testing.T, groupID, messageID string) (*chat.Message, error) {
					m := cached
					return &m, nil
				},
			},
			wantStatus: 204,
			wantCached: []string{"nurse"},
			wantEvents: 1,
		},
		{
			name: "NotCached",
			req:  `{"viewer_id": "nurse"}`,
			db: &testdb{
				markRead: func(t *testing.T, groupID, messageID, viewerID string) (chat.Message, error) {
					return cached.WithReader(viewerID), nil
				},
			},
			cache: &testcache{
				getMessage: func(t *testing.T, groupID, messageID string) (*chat.Message, error) {
					return nil, ErrMessageNotFoundInCache
				},
			},
			wantStatus: 204,
			wantEvents: 1,
		},
		{
			name: "CacheError",
			req:  `{"viewer_id": "nurse"}`,
			db: &testdb{
				markRead: func(t *testing.T, groupID, messageID, viewerID string) (chat.Message, error) {
					return cached.WithReader(viewerID), nil
				},
			},
			cache: &testcache{
				getMessage: func(t *testing.T, groupID, messageID string) (*chat.Message, error) {
					return nil, errors.New("connection refused")
				},
			},
			wantStatus:  204,
			wantEvents:  1,
			containsLog: "Could not read message from cache",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			if tt.db == nil {
				tt.db = &testdb{}
			}
			if tt.cache == nil {
				tt.cache = &testcache{}
			}
			var gotCached []string
			tt.cache.deleteMessage = func(t *testing.T, groupID, messageID string) error { return nil }
			tt.cache.insertMessage = func(t *testing.T, msg chat.Message) error {
				gotCached = msg.ReadBy
				return nil
			}
			tt.db.T = t
			tt.cache.T = t
			broker := &testbroker{}
			api := &API{
				DB:     tt.db,
				Cache:  tt.cache,
				Broker: broker,
				Logger: slog.New(slog.NewTextHandler(buf, nil)),
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/groups/g1/messages/m1/read", "application/json", strings.NewReader(tt.req))
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			if tt.wantBody != "" {
				checkBody(t, resp, tt.wantBody)
			}
			checkLog(t, buf, tt.containsLog)
			if diff := cmp.Diff(tt.wantCached, gotCached); diff != "" {
				t.Errorf("Cached read set mismatch (-want +got):\n%s", diff)
			}
			events := broker.published()
			if len(events) != tt.wantEvents {
				t.Fatalf("Got %d published events, want %d", len(events), tt.wantEvents)
			}
			for _, ev := range events {
				if ev.Type != EventRead || !ev.Message.ReadByViewer("nurse") {
					t.Errorf("Got event %+v", ev)
				}
			}
		})
	}
}

func TestAPI_streamMessages(t *testing.T) {
	history := []chat.Message{
		{ID: "m1", GroupID: "g1", SenderID: "doc", SenderRole: chat.RoleDoctor, Text: "rounds at 9", CreatedAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
	}
	db := &testdb{
		T:        t,
		getGroup: wardGroup,
		listMessages: func(t *testing.T, limit, offset int, excludeMsgIDs ...string) ([]chat.Message, error) {
			if limit != 200 || offset != 0 {
				t.Errorf("Got limit %d offset %d, want 200 0", limit, offset)
			}
			return history, nil
		},
	}
	broker := &testbroker{}
	api := &API{
		DB:     db,
		Broker: broker,
		Logger: slogt.New(t),
	}

	srv := httptest.NewServer(api)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/groups/g1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot Event
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatal(err)
	}
	if snapshot.Type != EventSnapshot || len(snapshot.Messages) != 1 || snapshot.Messages[0].ID != "m1" {
		t.Fatalf("Got snapshot %+v", snapshot)
	}

	msg := chat.Message{ID: "m2", GroupID: "g1", SenderID: "pat", SenderRole: chat.RolePatient, Text: "ok", ReadBy: []string{}}
	broker.deliver(Event{Type: EventMessage, GroupID: "g1", Message: &msg})

	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Event{Type: EventMessage, GroupID: "g1", Message: &msg}, ev); diff != "" {
		t.Errorf("Event mismatch (-want +got):\n%s", diff)
	}
}

func TestAPI_streamMessagesUnknownGroup(t *testing.T) {
	api := &API{
		DB:     &testdb{T: t, getGroup: wardGroup},
		Broker: &testbroker{},
		Logger: slogt.New(t),
	}
	srv := httptest.NewServer(api)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/groups/nope/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial succeeded for an unknown group")
	}
	if resp == nil {
		t.Fatal("Got no HTTP response")
	}
	checkStatus(t, resp.StatusCode, 404)
}

func TestForwarder_Lagging(t *testing.T) {
	done := make(chan struct{})
	fwd := newForwarder(1, 10*time.Millisecond, done)

	fwd.forward(Event{Type: EventMessage, GroupID: "g1"})
	select {
	case <-fwd.lagged:
		t.Fatal("Lagging while the buffer had room")
	default:
	}

	fwd.forward(Event{Type: EventRead, GroupID: "g1"})
	select {
	case <-fwd.lagged:
	default:
		t.Fatal("Not lagging after the buffer stayed full")
	}

	// Once lagging, drained room is not reused.
	if ev := <-fwd.events; ev.Type != EventMessage {
		t.Errorf("Got buffered event %+v, want the first one", ev)
	}
	fwd.forward(Event{Type: EventMessage, GroupID: "g1"})
	if n := len(fwd.events); n != 0 {
		t.Errorf("Got %d events accepted after lagging, want 0", n)
	}
}

func TestForwarder_ClientGone(t *testing.T) {
	done := make(chan struct{})
	close(done)
	fwd := newForwarder(0, time.Hour, done)

	returned := make(chan struct{})
	go func() {
		fwd.forward(Event{Type: EventMessage, GroupID: "g1"})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("forward blocked after the client went away")
	}
	select {
	case <-fwd.lagged:
		t.Error("Lagging reported for a closed stream")
	default:
	}
}

type testdb struct {
	T             *testing.T
	listMessages  func(t *testing.T, limit, offset int, excludeMsgIDs ...string) ([]chat.Message, error)
	insertMessage func(t *testing.T, msg chat.Message) (chat.Message, error)
	markRead      func(t *testing.T, groupID, messageID, viewerID string) (chat.Message, error)
	getGroup      func(t *testing.T, groupID string) (chat.Group, error)
}

func (db *testdb) ListMessages(_ context.Context, _ string, limit int, offset int, excludeMsgIDs ...string) ([]chat.Message, error) {
	return db.listMessages(db.T, limit, offset, excludeMsgIDs...)
}

func (db *testdb) InsertMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	return db.insertMessage(db.T, msg)
}

func (db *testdb) MarkRead(_ context.Context, groupID, messageID, viewerID string) (chat.Message, error) {
	return db.markRead(db.T, groupID, messageID, viewerID)
}

func (db *testdb) GetGroup(_ context.Context, groupID string) (chat.Group, error) {
	return db.getGroup(db.T, groupID)
}

type testcache struct {
	T             *testing.T
	listMessages  func(t *testing.T, groupID string) ([]chat.Message, error)
	insertMessage func(t *testing.T, msg chat.Message) error
	getMessage    func(t *testing.T, groupID, messageID string) (*chat.Message, error)
	deleteMessage func(t *testing.T, groupID, messageID string) error
}

func (c *testcache) GetMessage(_ context.Context, groupID, messageID string) (*chat.Message, error) {
	return c.getMessage(c.T, groupID, messageID)
}

func (c *testcache) DeleteMessage(_ context.Context, groupID, messageID string) error {
	return c.deleteMessage(c.T, groupID, messageID)
}

func (c *testcache) ListMessages(_ context.Context, groupID string) ([]chat.Message, error) {
	return c.listMessages(c.T, groupID)
}

func (c *testcache) InsertMessage(_ context.Context, msg chat.Message) error {
	return c.insertMessage(c.T, msg)
}

type testbroker struct {
	publishErr error

	mu       sync.Mutex
	events   []Event
	handlers []func(Event)
}

func (b *testbroker) Publish(_ context.Context, ev Event) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *testbroker) Subscribe(_ context.Context, _ string, handler func(Event)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
	return func() {}, nil
}

func (b *testbroker) published() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

func (b *testbroker) deliver(ev Event) {
	b.mu.Lock()
	handlers := slices.Clone(b.handlers)
	b.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func checkStatus(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("Got HTTP status %d, want %d", got, want)
	}
}

func checkBody(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	gotBody := normalizeJSON(t, resp.Body)
	wantBody := normalizeJSON(t, bytes.NewReader([]byte(want)))
	if gotBody != wantBody {
		t.Errorf("Body does not match\nGot\n  %s\n\nWant\n  %s", gotBody, wantBody)
	}
}

func checkLog(t *testing.T, buffer *bytes.Buffer, want string) {
	t.Helper()

	if s := buffer.String(); want != "" && !strings.Contains(s, want) {
		t.Errorf("Log does not contain  %s\n", want)
	}
}

func normalizeJSON(t *testing.T, r io.Reader) string {
	t.Helper()
	var buf bytes.Buffer
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Could not read JSON: %v", err)
	}
	if err := json.Indent(&buf, b, "  ", "  "); err != nil {
		t.Fatalf("Could not indent JSON: %v", err)
	}
	return strings.TrimSpace(buf.String())
}
