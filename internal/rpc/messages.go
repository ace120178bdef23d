package rpc

import (
	"encoding/json"

	"github.com/matheus3301/chatbridge/internal/store"
)

type Empty struct{}

type StatusResponse struct {
	Profile            string `json:"profile"`
	State              string `json:"state"`
	SelfID             string `json:"self_id,omitempty"`
	Linked             bool   `json:"linked"`
	HistoryTransferred bool   `json:"history_transferred"`
	UptimeMs           int64  `json:"uptime_ms"`
	ChatCount          int64  `json:"chat_count"`
	MessageCount       int64  `json:"message_count"`
}

type LoginRequest struct {
	// Phone requests a pairing code instead of a QR code.
	Phone string `json:"phone,omitempty"`
}

// LoginEvent is streamed while a login runs. The last event has Done set.
type LoginEvent struct {
	URL   string `json:"url,omitempty"`
	Code  string `json:"code,omitempty"`
	State string `json:"state,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

type ListChatsRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type ListChatsResponse struct {
	Chats   []store.Chat `json:"chats"`
	HasMore bool         `json:"has_more"`
}

type ListMessagesRequest struct {
	ChatID   string `json:"chat_id"`
	BeforeTs int64  `json:"before_ts,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type ListMessagesResponse struct {
	Messages []store.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

type SearchRequest struct {
	Query  string `json:"query"`
	ChatID string `json:"chat_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type SearchResponse struct {
	Results []store.SearchResult `json:"results"`
}

type ListContactsResponse struct {
	Contacts []store.Contact `json:"contacts"`
}

type SendRequest struct {
	ChatID   string `json:"chat_id"`
	Text     string `json:"text"`
	QuotedID string `json:"quoted_id,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	// Wait blocks until the outbox reports the message sent or failed.
	Wait bool `json:"wait,omitempty"`
}

type SendResponse struct {
	ClientMsgID string `json:"client_msg_id"`
	Status      string `json:"status"`
	ServerMsgID string `json:"server_msg_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

type EditRequest struct {
	ChatID string `json:"chat_id"`
	MsgID  string `json:"msg_id"`
	Text   string `json:"text"`
}

type TypingRequest struct {
	ChatID string `json:"chat_id"`
	Typing bool   `json:"typing"`
}

// MessageRequest addresses a message for react, read and delete.
type MessageRequest struct {
	ChatID   string `json:"chat_id"`
	MsgID    string `json:"msg_id"`
	SenderID string `json:"sender_id,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
}

type ChatRequest struct {
	ChatID string `json:"chat_id"`
}

type DownloadRequest struct {
	ChatID string `json:"chat_id"`
	MsgID  string `json:"msg_id"`
	Action int    `json:"action,omitempty"`
}

type DownloadResponse struct {
	Path   string `json:"path"`
	Status int    `json:"status"`
}

type WatchRequest struct {
	// Namespace filters event kinds by prefix; empty means all.
	Namespace string `json:"namespace,omitempty"`
}

// Envelope wraps one bus event for the watch stream.
type Envelope struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Account    int             `json:"account"`
	OccurredMs int64           `json:"occurred_ms"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
