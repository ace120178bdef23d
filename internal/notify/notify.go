// Package notify defines the canonical chat model pushed to the local cache
// and UI, and a typed publisher that puts it on the bus.
package notify

import (
	"time"

	"github.com/matheus3301/chatbridge/internal/bus"
)

// Event kinds published by a Notifier.
const (
	KindContactUpserted = "contact.upserted"
	KindChatUpserted    = "chat.upserted"
	KindChatDeleted     = "chat.deleted"
	KindChatMuted       = "chat.muted"
	KindChatPinned      = "chat.pinned"
	KindMessageNew      = "message.new"
	KindMessageHistory  = "message.history"
	KindMessageStatus   = "message.status"
	KindMessageFile     = "message.file"
	KindMessageReaction = "message.reaction"
	KindMessageDeleted  = "message.deleted"
	KindTypingChanged   = "typing.changed"
	KindFlag            = "session.flag"
	KindReinit          = "session.reinit"
	KindUIControl       = "session.ui_control"
	KindProvisioning    = "session.provisioning"
	KindLoginFailed     = "session.login_failed"
)

// Flag is a status indicator bit.
type Flag uint32

const (
	FlagOffline    Flag = 1 << 0
	FlagConnecting Flag = 1 << 1
	FlagOnline     Flag = 1 << 2
	FlagFetching   Flag = 1 << 3
	FlagSending    Flag = 1 << 4
	FlagUpdating   Flag = 1 << 5
	FlagSyncing    Flag = 1 << 6
	FlagAway       Flag = 1 << 7
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagOffline, "offline"},
	{FlagConnecting, "connecting"},
	{FlagOnline, "online"},
	{FlagFetching, "fetching"},
	{FlagSending, "sending"},
	{FlagUpdating, "updating"},
	{FlagSyncing, "syncing"},
	{FlagAway, "away"},
}

func (f Flag) String() string {
	for _, fn := range flagNames {
		if fn.flag == f {
			return fn.name
		}
	}
	return "unknown"
}

// FileStatus is the download state of a message attachment.
type FileStatus int

const (
	FileStatusNone           FileStatus = -1
	FileStatusNotDownloaded  FileStatus = 0
	FileStatusDownloaded     FileStatus = 1
	FileStatusDownloading    FileStatus = 2
	FileStatusDownloadFailed FileStatus = 3
)

// Contact is a display entry for a peer or the local account.
type Contact struct {
	ID     string
	Name   string
	Phone  string
	IsSelf bool
}

// Chat is a conversation with a peer or a group.
type Chat struct {
	ID           string
	Name         string
	IsGroup      bool
	IsUnread     bool
	IsMuted      bool
	LastActivity int64
}

// Message is a rendered message ready for display.
type Message struct {
	ID         string
	ChatID     string
	SenderID   string
	Text       string
	QuotedID   string
	FileID     string
	FilePath   string
	FileStatus FileStatus
	IsOutgoing bool
	IsRead     bool
	IsEdited   bool
	Timestamp  int64 // unix milliseconds
}

// HistoryBatch is a set of older messages for one chat.
type HistoryBatch struct {
	ChatID   string
	Messages []Message
}

type MessageStatus struct {
	ChatID string
	MsgID  string
	IsRead bool
}

type FileChange struct {
	ChatID   string
	MsgID    string
	FilePath string
	Status   FileStatus
	Action   int
}

type Reaction struct {
	ChatID   string
	MsgID    string
	SenderID string
	Emoji    string
	FromMe   bool
}

type MessageRef struct {
	ChatID string
	MsgID  string
}

type ChatRef struct {
	ChatID string
}

type Mute struct {
	ChatID string
	Muted  bool
}

type Pin struct {
	ChatID string
	Pinned bool
	Rank   int
}

type Typing struct {
	ChatID string
	UserID string
	Typing bool
}

type FlagChange struct {
	Flag Flag
	Set  bool
}

// UIControl tells the UI to hand the terminal over (Acquire) or take it back.
type UIControl struct {
	Acquire bool
}

// Provisioning carries a device-linking prompt.
type Provisioning struct {
	URL  string
	Code string
}

type LoginFailed struct {
	Reason string
}

// Publisher is satisfied by *bus.Bus.
type Publisher interface {
	Publish(evt bus.Event)
}

// Notifier publishes canonical notifications for a single account.
type Notifier struct {
	pub     Publisher
	account int
}

// NewNotifier creates a notifier for the given connection id.
func NewNotifier(pub Publisher, account int) *Notifier {
	return &Notifier{pub: pub, account: account}
}

func (n *Notifier) publish(kind string, payload any) {
	if n == nil || n.pub == nil {
		return
	}
	n.pub.Publish(bus.Event{
		Kind:      kind,
		Account:   n.account,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func (n *Notifier) NewContact(c Contact)              { n.publish(KindContactUpserted, c) }
func (n *Notifier) NewChat(c Chat)                    { n.publish(KindChatUpserted, c) }
func (n *Notifier) ChatDeleted(chatID string)         { n.publish(KindChatDeleted, ChatRef{ChatID: chatID}) }
func (n *Notifier) NewMessage(m Message)              { n.publish(KindMessageNew, m) }
func (n *Notifier) NewHistory(b HistoryBatch)         { n.publish(KindMessageHistory, b) }
func (n *Notifier) MessageFile(f FileChange)          { n.publish(KindMessageFile, f) }
func (n *Notifier) MessageReaction(r Reaction)        { n.publish(KindMessageReaction, r) }
func (n *Notifier) ProvisioningPrompt(p Provisioning) { n.publish(KindProvisioning, p) }

func (n *Notifier) MessageStatus(chatID, msgID string, isRead bool) {
	n.publish(KindMessageStatus, MessageStatus{ChatID: chatID, MsgID: msgID, IsRead: isRead})
}

func (n *Notifier) MessageDeleted(chatID, msgID string) {
	n.publish(KindMessageDeleted, MessageRef{ChatID: chatID, MsgID: msgID})
}

func (n *Notifier) MuteChanged(chatID string, muted bool) {
	n.publish(KindChatMuted, Mute{ChatID: chatID, Muted: muted})
}

func (n *Notifier) PinChanged(chatID string, pinned bool, rank int) {
	n.publish(KindChatPinned, Pin{ChatID: chatID, Pinned: pinned, Rank: rank})
}

func (n *Notifier) TypingChanged(chatID, userID string, typing bool) {
	n.publish(KindTypingChanged, Typing{ChatID: chatID, UserID: userID, Typing: typing})
}

func (n *Notifier) SetFlag(f Flag)   { n.publish(KindFlag, FlagChange{Flag: f, Set: true}) }
func (n *Notifier) ClearFlag(f Flag) { n.publish(KindFlag, FlagChange{Flag: f, Set: false}) }

// Reinit asks the connection layer to provision the account again.
func (n *Notifier) Reinit() { n.publish(KindReinit, nil) }

func (n *Notifier) UIControl(acquire bool) { n.publish(KindUIControl, UIControl{Acquire: acquire}) }

func (n *Notifier) LoginFailed(reason string) {
	n.publish(KindLoginFailed, LoginFailed{Reason: reason})
}
