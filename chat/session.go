package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Config tunes a Session. The zero value is usable.
type Config struct {
	// Window is the reconciliation window. Defaults to DefaultWindow.
	Window time.Duration
	Policy FallbackPolicy
	// Now stamps pending entries. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// A View is what the renderer shows for a chat screen.
type View struct {
	Messages []Message
	State    State
	// Sending is set while at least one send is in flight.
	Sending bool
	// Error describes the last failed send.
	Error string
	// Draft is the text in the input field.
	Draft string
}

// A Session synchronizes one chat screen with a group's messages. It merges
// the confirmed messages from the repository with the local user's pending
// sends, marks incoming messages read and falls back to one-shot fetches when
// the live subscription fails.
//
// All state is guarded by one mutex; repository calls run on their own
// goroutines and re-enter through it.
type Session struct {
	repo    Repository
	groupID string
	sender  Sender
	window  time.Duration
	logger  *slog.Logger

	// ctx is cancelled on Close. sendCtx outlives it so that in-flight sends
	// complete.
	ctx     context.Context
	cancel  context.CancelFunc
	sendCtx context.Context
	bg      sync.WaitGroup
	streams sync.WaitGroup
	sends   sync.WaitGroup

	updates chan struct{}

	mu       sync.Mutex
	closed   bool
	ctrl     *Controller
	pending  *PendingQueue
	reads    *ReadTracker
	sub      Subscription
	inflight int
	lastErr  string
	draft    string
	view     []Message

	// claimed holds the confirmed ids that already stood for an entry.
	claimed map[string]struct{}
	// prior holds, per entry, the confirmed ids with the same sender and
	// text that were known when the entry was enqueued.
	prior map[string]map[string]struct{}
}

// Open starts a session for groupID on behalf of sender and begins the first
// subscription attempt.
func Open(ctx context.Context, repo Repository, groupID string, sender Sender, cfg Config) *Session {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		repo:    repo,
		groupID: groupID,
		sender:  sender,
		window:  cfg.Window,
		logger:  cfg.Logger.With("group_id", groupID, "viewer_id", sender.ID),
		ctx:     sctx,
		cancel:  cancel,
		sendCtx: context.WithoutCancel(ctx),
		updates: make(chan struct{}, 1),
		ctrl:    NewController(cfg.Policy),
		pending: NewPendingQueue(groupID, cfg.Now),
		reads:   NewReadTracker(sender.ID),
		claimed: make(map[string]struct{}),
		prior:   make(map[string]map[string]struct{}),
	}
	_ = s.Refresh()
	return s
}

// Updates signals that the view changed. Signals are coalesced; read View
// after each one. The channel is closed by Close.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// View returns the current view.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Messages: slices.Clone(s.view),
		State:    s.ctrl.State(),
		Sending:  s.inflight > 0,
		Error:    s.lastErr,
		Draft:    s.draft,
	}
}

// SetDraft replaces the input text.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.draft = text
	s.notify()
}

// Refresh drops the current subscription and attempts a fresh one. It is the
// only way out of the degraded state.
func (s *Session) Refresh() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	old := s.sub
	s.sub = nil
	gen := s.ctrl.Attempt()
	s.bg.Add(1)
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn("Could not close subscription", "error", err.Error())
		}
	}
	go s.subscribe(gen)
	return nil
}

// Send shows text as a pending message right away and sends it in the
// background. Blank text is rejected with ErrEmptyMessage. If the send fails
// the pending message is removed, text is restored into the draft and the
// view's Error is set.
func (s *Session) Send(text string) (string, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return "", ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	id := s.pending.Enqueue(s.sender, body)
	for _, c := range s.ctrl.Confirmed() {
		if c.SenderID != s.sender.ID || c.Text != body {
			continue
		}
		if s.prior[id] == nil {
			s.prior[id] = make(map[string]struct{})
		}
		s.prior[id][c.ID] = struct{}{}
	}
	s.draft = ""
	s.lastErr = ""
	s.inflight++
	s.render()
	s.sends.Add(1)
	s.mu.Unlock()

	go s.deliver(id, text, body)
	return id, nil
}

// Close cancels the subscription and any pending fetches. Sends already in
// flight complete but their results are discarded.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	s.cancel()
	var err error
	if sub != nil {
		err = sub.Close()
	}
	s.bg.Wait()
	s.streams.Wait()
	close(s.updates)
	return err
}

func (s *Session) subscribe(gen uint64) {
	defer s.bg.Done()

	sub, err := s.repo.Subscribe(s.ctx, s.groupID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.ctrl.Generation() {
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	if err != nil {
		s.logger.Error("Could not subscribe to messages, falling back to fetch", "error", err.Error())
		s.apply(gen, s.ctrl.SubscribeFailed(gen))
		return
	}
	s.sub = sub
	s.ctrl.Subscribed(gen)
	s.notify()
	s.streams.Add(1)
	go s.consume(gen, sub)
}

func (s *Session) consume(gen uint64, sub Subscription) {
	defer s.streams.Done()
	for msgs := range sub.Updates() {
		s.mu.Lock()
		if !s.closed {
			s.apply(gen, s.ctrl.Emission(gen, msgs))
		}
		s.mu.Unlock()
	}

	err := sub.Err()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.ctrl.Generation() {
		return
	}
	if err == nil {
		err = ErrStreamClosed
	}
	s.logger.Error("Message stream failed, falling back to fetch", "error", err.Error())
	s.apply(gen, s.ctrl.StreamFailed(gen))
}

func (s *Session) fetch(gen uint64) {
	defer s.bg.Done()

	msgs, err := s.repo.FetchOnce(s.ctx, s.groupID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("Could not fetch messages", "error", err.Error())
		}
		s.ctrl.FetchFailed(gen)
		return
	}
	s.apply(gen, s.ctrl.Fetched(gen, msgs))
}

func (s *Session) deliver(id, text, body string) {
	defer s.sends.Done()

	msg, err := s.repo.Send(s.sendCtx, s.groupID, Outgoing{
		SenderID:   s.sender.ID,
		SenderName: s.sender.Name,
		SenderRole: s.sender.Role,
		Text:       body,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if s.closed {
		return
	}
	if err != nil {
		s.logger.Error("Could not send message", "entry_id", id, "error", err.Error())
		s.pending.Fail(id)
		delete(s.prior, id)
		s.draft = text
		s.lastErr = fmt.Sprintf("Could not send message: %v", err)
		s.render()
		return
	}
	s.resolve(id, msg.ID)
	s.ctrl.Upsert(msg)
	s.render()
}

func (s *Session) markRead(id string) {
	defer s.bg.Done()
	if err := s.repo.MarkRead(s.ctx, s.groupID, id, s.sender.ID); err != nil {
		s.logger.Warn("Could not mark message read", "message_id", id, "error", err.Error())
	}
}

// apply acts on a controller step. The caller holds mu.
func (s *Session) apply(gen uint64, step Step) {
	if step.Fetch {
		s.bg.Add(1)
		go s.fetch(gen)
	}
	if step.Render {
		s.render()
	} else {
		s.notify()
	}
}

// render recomputes the view from the confirmed messages and the pending
// queue, and marks new unread messages. The caller holds mu.
func (s *Session) render() {
	confirmed := s.ctrl.Confirmed()
	for id, msgID := range Matches(confirmed, s.pending.Entries(), s.window, s.skip) {
		s.resolve(id, msgID)
	}
	s.view = ReconcileFunc(confirmed, s.pending.Entries(), s.window, s.skip)

	for _, id := range s.reads.Unread(s.view) {
		s.bg.Add(1)
		go s.markRead(id)
	}
	s.notify()
}

// resolve drops entry id now that the confirmed message msgID stands for
// it. The caller holds mu.
func (s *Session) resolve(id, msgID string) {
	s.pending.Resolve(id)
	delete(s.prior, id)
	s.claimed[msgID] = struct{}{}
}

// skip keeps a confirmed message from absorbing an entry it cannot be the
// copy of. The caller holds mu.
func (s *Session) skip(c, p Message) bool {
	if _, ok := s.claimed[c.ID]; ok {
		return true
	}
	_, ok := s.prior[p.ID][c.ID]
	return ok
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// wait blocks until every background call and send has returned.
func (s *Session) wait() {
	s.sends.Wait()
	s.bg.Wait()
}
