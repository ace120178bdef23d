// Package chatstate tracks per-account pinned and muted chats and the most
// recent messages of each chat.
package chatstate

import "sync"

// DefaultRecentCapacity is the ring size used when none is configured.
const DefaultRecentCapacity = 5

// PinDelta is a chat that became pinned, with its rank starting at 1.
type PinDelta struct {
	ChatID string
	Rank   int
}

// Tracker holds chat state for one account. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	pinned   map[string]int
	muted    map[string]bool
	recent   map[string]*Ring
}

// NewTracker creates a tracker whose recent-message rings hold capacity entries.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &Tracker{
		capacity: capacity,
		pinned:   make(map[string]int),
		muted:    make(map[string]bool),
		recent:   make(map[string]*Ring),
	}
}

// ApplyPinnedSnapshot replaces the pinned set with ids, in order, and returns
// the chats that were not pinned before and the chats that no longer are.
func (t *Tracker) ApplyPinnedSnapshot(ids []string) (pinned []PinDelta, unpinned []string) {
	next := make(map[string]int, len(ids))
	order := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := next[id]; dup {
			continue
		}
		next[id] = len(order) + 1
		order = append(order, id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range order {
		if _, ok := t.pinned[id]; !ok {
			pinned = append(pinned, PinDelta{ChatID: id, Rank: next[id]})
		}
	}
	prev := make([]string, len(t.pinned))
	for id, rank := range t.pinned {
		prev[rank-1] = id
	}
	for _, id := range prev {
		if _, ok := next[id]; !ok {
			unpinned = append(unpinned, id)
		}
	}
	t.pinned = next
	return pinned, unpinned
}

// Pinned returns the rank of chatID, or 0 if it is not pinned.
func (t *Tracker) Pinned(chatID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pinned[chatID]
}

// ApplyMuteChange stores the mute state of chatID and reports whether it
// differs from the stored one.
func (t *Tracker) ApplyMuteChange(chatID string, muted bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := t.muted[chatID] != muted
	t.muted[chatID] = muted
	return changed
}

// Muted reports the stored mute state of chatID.
func (t *Tracker) Muted(chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted[chatID]
}

// TrackRecent records a message in the chat's recent-message ring.
func (t *Tracker) TrackRecent(chatID string, m RecentMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.recent[chatID]
	if !ok {
		r = NewRing(t.capacity)
		t.recent[chatID] = r
	}
	r.Push(m)
}

// Recent returns the chat's recent messages, oldest first.
func (t *Tracker) Recent(chatID string) []RecentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.recent[chatID]; ok {
		return r.Items()
	}
	return nil
}

// Forget drops the recent-message ring of chatID.
func (t *Tracker) Forget(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.recent, chatID)
}
