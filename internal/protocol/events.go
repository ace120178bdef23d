package protocol

import (
	"time"

	"github.com/matheus3301/chatbridge/internal/markup"
)

// Event is an inbound protocol event. The concrete types are listed below.
type Event interface {
	isEvent()
}

// MessageInfo is the envelope common to chat events.
type MessageInfo struct {
	ChatID     string
	SenderID   string
	SenderName string
	ID         string
	Timestamp  time.Time
	FromMe     bool
	IsGroup    bool
}

// Message carries a data message.
type Message struct {
	Info MessageInfo
	Data *DataMessage
}

// Typing reports a typing indicator change.
type Typing struct {
	Info    MessageInfo
	Started bool
}

// Edit replaces the content of an earlier message.
type Edit struct {
	Info     MessageInfo
	TargetID string
	Data     *DataMessage
}

// ReceiptType distinguishes receipt kinds.
type ReceiptType int

const (
	ReceiptDelivery ReceiptType = iota
	ReceiptRead
	ReceiptViewed
)

// Receipt reports that a peer received or read messages.
type Receipt struct {
	Info       MessageInfo
	Type       ReceiptType
	MessageIDs []string
}

// ReadMessage is one message read on another linked device.
type ReadMessage struct {
	ChatID    string
	SenderID  string
	MessageID string
}

// ReadSelf reports messages read on another linked device.
type ReadSelf struct {
	Messages []ReadMessage
}

// Contact is one entry of a contact list snapshot.
type Contact struct {
	ID          string
	ContactName string
	ProfileName string
	E164        string
}

// ContactList is a full contact list snapshot.
type ContactList struct {
	Contacts []Contact
}

// Conversation identifies a chat. The first populated field wins.
type Conversation struct {
	ServiceID string
	GroupID   string
	E164      string
}

// ChatID returns the populated identifier in priority order.
func (c Conversation) ChatID() string {
	switch {
	case c.ServiceID != "":
		return c.ServiceID
	case c.GroupID != "":
		return c.GroupID
	default:
		return c.E164
	}
}

// AddressableMessage names a message by author and id.
type AddressableMessage struct {
	AuthorID  string
	MessageID string
	Timestamp time.Time
}

type MessageDelete struct {
	Conversation Conversation
	Messages     []AddressableMessage
}

type ConversationDelete struct {
	Conversation Conversation
	MostRecent   []AddressableMessage
}

// DeleteForMe is a delete sync from another linked device.
type DeleteForMe struct {
	MessageDeletes      []MessageDelete
	ConversationDeletes []ConversationDelete
}

// LoggedOut reports that the server invalidated the device.
type LoggedOut struct {
	Reason string
}

// PinnedChanged is an ordered snapshot of pinned chats.
type PinnedChanged struct {
	ChatIDs []string
}

// MuteChanged reports the mute state of one chat.
type MuteChanged struct {
	ChatID string
	Muted  bool
}

// DecryptionError reports a message that could not be decrypted.
type DecryptionError struct {
	Info MessageInfo
}

// Call reports an incoming call offer.
type Call struct {
	ChatID    string
	From      string
	Timestamp time.Time
	Ringing   bool
}

// HistoryBatch is a batch of older messages for one chat.
type HistoryBatch struct {
	ChatID   string
	Messages []*Message
}

// Unhandled wraps an event the backend saw but does not translate.
type Unhandled struct {
	Kind string
}

func (*Message) isEvent()         {}
func (*Typing) isEvent()          {}
func (*Edit) isEvent()            {}
func (*Receipt) isEvent()         {}
func (*ReadSelf) isEvent()        {}
func (*ContactList) isEvent()     {}
func (*DeleteForMe) isEvent()     {}
func (*LoggedOut) isEvent()       {}
func (*PinnedChanged) isEvent()   {}
func (*MuteChanged) isEvent()     {}
func (*DecryptionError) isEvent() {}
func (*Call) isEvent()            {}
func (*HistoryBatch) isEvent()    {}
func (*Unhandled) isEvent()       {}

// ContentKind tags content the bridge shows as a placeholder.
type ContentKind int

const (
	ContentText ContentKind = iota
	ContentSticker
	ContentContact
	ContentPayment
	ContentGiftBadge
	ContentGroupCall
	ContentStory
	ContentPoll
	ContentPollVote
	ContentPollTerminate
	ContentLocation
)

// DataFlags are protocol control bits carried on a data message.
type DataFlags uint32

const (
	FlagEndSession DataFlags = 1 << iota
	FlagExpirationTimerUpdate
	FlagProfileKeyUpdate
)

// Quote references the message being replied to.
type Quote struct {
	ID       string
	AuthorID string
	Text     string
}

// Reaction adds or removes an emoji reaction on a target message.
type Reaction struct {
	Emoji          string
	Remove         bool
	TargetAuthorID string
	TargetID       string
}

// Delete is a remote delete of a target message.
type Delete struct {
	TargetID       string
	TargetAuthorID string
}

// GroupChange lists the actions of a group update.
type GroupChange struct {
	Added           []string
	Removed         []string
	RoleChanged     []string
	AcceptedInvites []string
	Approved        []string
	// NewTitle is set when the title changed; an empty value means the new
	// title is unknown.
	NewTitle           *string
	DescriptionChanged bool
	AvatarChanged      bool
	TimerChanged       bool
	Invited            int
	InvitesRevoked     int
	JoinRequests       int
	JoinRequestsDenied int
	AnnouncementsOnly  *bool
}

// DataMessage is the content of a message. It is also sent as Outgoing.
type DataMessage struct {
	Body        string
	BodyRanges  []markup.Range
	Quote       *Quote
	Attachments []*AttachmentPointer
	Reaction    *Reaction
	Delete      *Delete
	GroupChange *GroupChange
	Kind        ContentKind
	Flags       DataFlags
}
