package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
	forwardTimeout = time.Second
)

// A forwarder hands broker events to a stream's write pump. When the pump
// stops draining for longer than timeout, lagged is closed and no further
// events are accepted, so the stream is closed instead of skipping events.
type forwarder struct {
	events  chan Event
	done    <-chan struct{}
	lagged  chan struct{}
	timeout time.Duration
	once    sync.Once
}

func newForwarder(size int, timeout time.Duration, done <-chan struct{}) *forwarder {
	return &forwarder{
		events:  make(chan Event, size),
		done:    done,
		lagged:  make(chan struct{}),
		timeout: timeout,
	}
}

func (f *forwarder) forward(ev Event) {
	select {
	case <-f.lagged:
		return
	default:
	}
	timer := time.NewTimer(f.timeout)
	defer timer.Stop()
	select {
	case f.events <- ev:
	case <-f.done:
	case <-f.lagged:
	case <-timer.C:
		f.once.Do(func() { close(f.lagged) })
	}
}

// streamMessages upgrades to a websocket, sends the group's recent history
// as a snapshot event and then forwards every event published to the group.
func (a *API) streamMessages(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("groupID")
	if _, err := a.DB.GetGroup(r.Context(), groupID); err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			a.respondError(w, http.StatusNotFound, err, "Group not found")
			return
		}
		a.respondError(w, http.StatusInternalServerError, err, "Could not get group")
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Error("Could not upgrade connection", "error", err.Error())
		return
	}
	defer conn.Close()

	ctx := r.Context()
	done := make(chan struct{})
	fwd := newForwarder(sendBuffer, forwardTimeout, done)

	// Subscribe before reading history so nothing published in between is
	// lost. Subscribers de-duplicate by message id.
	stop, err := a.Broker.Subscribe(ctx, groupID, fwd.forward)
	if err != nil {
		a.Logger.Error("Could not subscribe to group", "group_id", groupID, "error", err.Error())
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		return
	}
	defer stop()

	history, err := a.DB.ListMessages(ctx, groupID, a.HistoryLimit, 0)
	if err != nil {
		a.Logger.Error("Could not list messages for stream", "group_id", groupID, "error", err.Error())
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "history failed"))
		return
	}
	snapshot := Event{Type: EventSnapshot, GroupID: groupID, Messages: normalizeAll(history)}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(snapshot); err != nil {
		a.Logger.Error("Could not write snapshot", "group_id", groupID, "error", err.Error())
		return
	}
	a.Logger.Info("Stream opened", "group_id", groupID, "history", len(history))

	go a.readPump(conn, done)
	a.writePump(conn, fwd, done)
	a.Logger.Info("Stream closed", "group_id", groupID)
}

// readPump discards inbound frames and keeps the read deadline fresh. It
// closes done when the client goes away.
func (a *API) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.Logger.Warn("Stream read error", "error", err.Error())
			}
			return
		}
	}
}

// writePump writes forwarded events and pings until the client goes away. A
// lagging subscriber gets a close frame so that it falls back to fetching.
func (a *API) writePump(conn *websocket.Conn, fwd *forwarder, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-fwd.events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				a.Logger.Error("Could not write event", "error", err.Error())
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				a.Logger.Error("Could not ping stream", "error", err.Error())
				return
			}
		case <-fwd.lagged:
			a.Logger.Warn("Stream subscriber is lagging, closing stream")
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber lagging")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case <-done:
			return
		}
	}
}
