package chatstate

// RecentMessage is an anchor for chat deletion.
type RecentMessage struct {
	SenderID  string
	MessageID string
	Timestamp int64
}

// Ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type Ring struct {
	buf   []RecentMessage
	start int
	n     int
}

// NewRing creates a ring holding at most capacity entries.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]RecentMessage, capacity)}
}

// Push appends m, dropping the oldest entry if the ring is full.
func (r *Ring) Push(m RecentMessage) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = m
		r.n++
		return
	}
	r.buf[r.start] = m
	r.start = (r.start + 1) % len(r.buf)
}

// Items returns the entries oldest first.
func (r *Ring) Items() []RecentMessage {
	out := make([]RecentMessage, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *Ring) Len() int { return r.n }
func (r *Ring) Cap() int { return len(r.buf) }
