package store

// Chat is a cached conversation.
type Chat struct {
	ID                 string
	Name               string
	IsGroup            bool
	IsUnread           bool
	IsMuted            bool
	IsPinned           bool
	PinRank            int
	LastMessageAt      int64
	LastMessagePreview string
}

// Contact is a cached peer or the local account.
type Contact struct {
	ID     string
	Name   string
	Phone  string
	IsSelf bool
}

// Message is a cached message with rendered text.
type Message struct {
	ID         int64
	ChatID     string
	MsgID      string
	SenderID   string
	Body       string
	QuotedID   string
	FileID     string
	FilePath   string
	FileStatus int
	FromMe     bool
	IsRead     bool
	IsEdited   bool
	Timestamp  int64
}

// Reaction is one sender's reaction to a message.
type Reaction struct {
	ChatID   string
	MsgID    string
	SenderID string
	Emoji    string
	FromMe   bool
}

// Outbox statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxEntry is a message waiting to be sent.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatID       string
	Body         string
	QuotedID     string
	FilePath     string
	Status       string
	ErrorMessage string
	ServerMsgID  string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
