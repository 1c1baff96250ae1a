package chat

// A ReadTracker remembers which messages a viewer has already marked read in
// this session so that each one is marked at most once.
type ReadTracker struct {
	viewerID string
	marked   map[string]struct{}
}

// NewReadTracker returns a tracker for viewerID.
func NewReadTracker(viewerID string) *ReadTracker {
	return &ReadTracker{
		viewerID: viewerID,
		marked:   make(map[string]struct{}),
	}
}

// Unread returns the ids of confirmed messages from other senders that the
// viewer has not read and that were not returned by an earlier call. The
// returned ids are recorded as marked.
func (t *ReadTracker) Unread(msgs []Message) []string {
	var ids []string
	for _, m := range msgs {
		if m.Kind != Confirmed || m.SenderID == t.viewerID || m.ReadByViewer(t.viewerID) {
			continue
		}
		if _, ok := t.marked[m.ID]; ok {
			continue
		}
		t.marked[m.ID] = struct{}{}
		ids = append(ids, m.ID)
	}
	return ids
}

// Marked reports whether id was already handed out for marking.
func (t *ReadTracker) Marked(id string) bool {
	_, ok := t.marked[id]
	return ok
}
