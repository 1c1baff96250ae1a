package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/websocket"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/carelink/wardchat/chat"
)

const pageSize = 50

var (
	ErrMessageNotFoundInCache = errors.New("message not found in cache")
	ErrMessageNotFound        = errors.New("message not found")
	ErrGroupNotFound          = errors.New("group not found")
)

// A DB provides a storage layer that persists messages, read receipts and
// groups.
type DB interface {
	ListMessages(ctx context.Context, groupID string, limit int, offset int, excludeMsgIDs ...string) ([]chat.Message, error)
	InsertMessage(ctx context.Context, msg chat.Message) (chat.Message, error)
	MarkRead(ctx context.Context, groupID, messageID, viewerID string) (chat.Message, error)
	GetGroup(ctx context.Context, groupID string) (chat.Group, error)
}

// A Cache provides a storage layer that caches a group's recent messages.
type Cache interface {
	ListMessages(ctx context.Context, groupID string) ([]chat.Message, error)
	InsertMessage(ctx context.Context, msg chat.Message) error
	GetMessage(ctx context.Context, groupID, messageID string) (*chat.Message, error)
	DeleteMessage(ctx context.Context, groupID, messageID string) error
}

// A Broker fans events out to the stream subscribers of a group.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe calls handler for each event published to the group until
	// the returned stop function is called or ctx is done.
	Subscribe(ctx context.Context, groupID string, handler func(Event)) (stop func(), err error)
}

// API provides the REST and websocket endpoints of the message backend.
type API struct {
	Logger *slog.Logger
	DB     DB
	Cache  Cache
	Broker Broker
	// HistoryLimit caps the snapshot sent to new stream subscribers.
	HistoryLimit int

	once     sync.Once
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /groups/{groupID}", a.getGroup)
	mux.HandleFunc("GET /groups/{groupID}/messages", a.listMessages)
	mux.HandleFunc("POST /groups/{groupID}/messages", a.createMessage)
	mux.HandleFunc("POST /groups/{groupID}/messages/{messageID}/read", a.markRead)
	mux.HandleFunc("GET /groups/{groupID}/stream", a.streamMessages)

	a.mux = mux
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if a.HistoryLimit <= 0 {
		a.HistoryLimit = 200
	}
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	m := httpsnoop.CaptureMetrics(a.mux, w, r)
	a.Logger.Info("Request handled", "method", r.Method, "path", r.URL.Path, "status", m.Code, "duration", m.Duration)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

func (a *API) getGroup(w http.ResponseWriter, r *http.Request) {
	group, err := a.DB.GetGroup(r.Context(), r.PathValue("groupID"))
	if errors.Is(err, ErrGroupNotFound) {
		a.respondError(w, http.StatusNotFound, err, "Group not found")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not get group")
		return
	}
	if group.MemberIDs == nil {
		group.MemberIDs = []string{}
	}
	a.respond(w, http.StatusOK, group)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Messages []chat.Message `json:"messages"`
	}

	groupID := r.PathValue("groupID")
	p := r.URL.Query().Get("page")
	page, err := strconv.Atoi(p)
	if err != nil || page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var msgs []chat.Message
	if page == 1 {
		// Get the most recent messages from cache
		msgs, err = a.Cache.ListMessages(r.Context(), groupID)
		if err != nil {
			a.Logger.Error("Error listing messages from cache, trying database", "error", err.Error())
			msgs = nil
		}
		if len(msgs) > pageSize {
			msgs = msgs[:pageSize]
		}
	}
	cacheMsgCount := len(msgs)
	a.Logger.Info("Got messages from cache", "group_id", groupID, "count", cacheMsgCount)

	// Get any remaining messages from DB
	msgIDs := make([]string, cacheMsgCount)
	for i, msg := range msgs {
		msgIDs[i] = msg.ID
	}
	var dbMsgs []chat.Message
	if cacheMsgCount < pageSize {
		dbMsgs, err = a.DB.ListMessages(r.Context(), groupID, pageSize-cacheMsgCount, offset, msgIDs...)
		if err != nil {
			a.respondError(w, http.StatusInternalServerError, err, "Could not list messages")
			return
		}
	}
	a.Logger.Info("Got remaining messages from DB", "group_id", groupID, "count", len(dbMsgs))
	msgs = append(msgs, dbMsgs...)

	a.respond(w, http.StatusOK, response{Messages: normalizeAll(msgs)})
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	var body chat.Outgoing
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	r.Body.Close()

	text := strings.TrimSpace(body.Text)
	if text == "" {
		a.respondError(w, http.StatusBadRequest, chat.ErrEmptyMessage, "Message text is empty")
		return
	}
	if !body.SenderRole.Valid() {
		a.respondError(w, http.StatusBadRequest, errors.New("invalid role "+string(body.SenderRole)), "Unknown sender role")
		return
	}

	groupID := r.PathValue("groupID")
	group, err := a.DB.GetGroup(r.Context(), groupID)
	if errors.Is(err, ErrGroupNotFound) {
		a.respondError(w, http.StatusNotFound, err, "Group not found")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not get group")
		return
	}
	if !group.HasMember(body.SenderID) {
		a.respondError(w, http.StatusForbidden, errors.New("sender "+body.SenderID+" is not a member"), "Sender is not a member of the group")
		return
	}

	msg, err := a.DB.InsertMessage(r.Context(), chat.Message{
		GroupID:    groupID,
		SenderID:   body.SenderID,
		SenderName: body.SenderName,
		SenderRole: body.SenderRole,
		Text:       text,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not insert message")
		return
	}
	msg = normalize(msg)

	if err := a.Cache.InsertMessage(r.Context(), msg); err != nil {
		a.Logger.Error("Could not cache message", "error", err.Error())
	}
	if err := a.Broker.Publish(r.Context(), Event{Type: EventMessage, GroupID: groupID, Message: &msg}); err != nil {
		a.Logger.Error("Could not publish message", "error", err.Error())
	}

	a.respond(w, http.StatusCreated, msg)
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	type request struct {
		ViewerID string `json:"viewer_id"`
	}

	groupID := r.PathValue("groupID")
	messageID := r.PathValue("messageID")
	var body request
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	r.Body.Close()
	if body.ViewerID == "" {
		a.respondError(w, http.StatusBadRequest, errors.New("empty viewer id"), "Viewer is required")
		return
	}

	msg, err := a.DB.MarkRead(r.Context(), groupID, messageID, body.ViewerID)
	if err != nil {
		var pgErr pgdriver.Error
		if errors.Is(err, ErrMessageNotFound) || (errors.As(err, &pgErr) && pgErr.IntegrityViolation()) {
			a.respondError(w, http.StatusNotFound, err, "Message not found")
			return
		}
		a.respondError(w, http.StatusInternalServerError, err, "Could not mark message read")
		return
	}

	m, err := a.Cache.GetMessage(r.Context(), groupID, messageID)
	if err != nil && !errors.Is(err, ErrMessageNotFoundInCache) {
		a.Logger.Error("Could not read message from cache", "error", err.Error())
	}
	if m != nil && !m.ReadByViewer(body.ViewerID) {
		updated := m.WithReader(body.ViewerID)
		//Update the cache
		if err := a.Cache.DeleteMessage(r.Context(), groupID, messageID); err != nil {
			a.Logger.Error("Could not update the cache", "error", err.Error())
		} else if err := a.Cache.InsertMessage(r.Context(), updated); err != nil {
			a.Logger.Error("Could not update the cache", "error", err.Error())
		}
	}

	msg = normalize(msg)
	if err := a.Broker.Publish(r.Context(), Event{Type: EventRead, GroupID: groupID, Message: &msg}); err != nil {
		a.Logger.Error("Could not publish read receipt", "error", err.Error())
	}
	w.WriteHeader(http.StatusNoContent)
}
