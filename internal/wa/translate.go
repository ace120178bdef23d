package wa

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/matheus3301/chatbridge/internal/markup"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// translate converts a whatsmeow event into a protocol event. It returns
// nil for events the bridge ignores.
func (c *Client) translate(raw any) protocol.Event {
	switch e := raw.(type) {
	case *events.Message:
		return c.translateMessage(c.messageInfo(e.Info), e.Message)
	case *events.ChatPresence:
		return &protocol.Typing{
			Info: protocol.MessageInfo{
				ChatID:   c.userID(e.Chat),
				SenderID: c.userID(e.Sender),
				FromMe:   e.IsFromMe,
				IsGroup:  e.IsGroup,
			},
			Started: e.State == types.ChatPresenceComposing,
		}
	case *events.Receipt:
		return c.translateReceipt(e)
	case *events.UndecryptableMessage:
		return &protocol.DecryptionError{Info: c.messageInfo(e.Info)}
	case *events.GroupInfo:
		return c.translateGroupInfo(e)
	case *events.Pin:
		return &protocol.PinnedChanged{ChatIDs: c.setPinned(c.userID(e.JID), e.Action.GetPinned())}
	case *events.Mute:
		return &protocol.MuteChanged{ChatID: c.userID(e.JID), Muted: e.Action.GetMuted()}
	case *events.DeleteForMe:
		return &protocol.DeleteForMe{
			MessageDeletes: []protocol.MessageDelete{{
				Conversation: c.conversation(e.ChatJID),
				Messages: []protocol.AddressableMessage{{
					AuthorID:  c.userID(e.SenderJID),
					MessageID: e.MessageID,
					Timestamp: e.Timestamp,
				}},
			}},
		}
	case *events.DeleteChat:
		return &protocol.DeleteForMe{
			ConversationDeletes: []protocol.ConversationDelete{{Conversation: c.conversation(e.JID)}},
		}
	case *events.Contact:
		name := e.Action.GetFullName()
		if name == "" {
			name = e.Action.GetFirstName()
		}
		return &protocol.ContactList{Contacts: []protocol.Contact{{ID: c.userID(e.JID), ContactName: name}}}
	case *events.PushName:
		return &protocol.ContactList{Contacts: []protocol.Contact{{ID: c.userID(e.JID), ProfileName: e.NewPushName}}}
	case *events.CallOffer:
		c.stateMu.Lock()
		c.calls[e.CallID] = false
		c.stateMu.Unlock()
		from := c.userID(e.From)
		return &protocol.Call{ChatID: from, From: from, Timestamp: e.Timestamp, Ringing: true}
	case *events.CallAccept:
		c.stateMu.Lock()
		if _, ok := c.calls[e.CallID]; ok {
			c.calls[e.CallID] = true
		}
		c.stateMu.Unlock()
		return nil
	case *events.CallTerminate:
		c.stateMu.Lock()
		accepted, ok := c.calls[e.CallID]
		delete(c.calls, e.CallID)
		c.stateMu.Unlock()
		if !ok || accepted {
			return nil
		}
		from := c.userID(e.From)
		return &protocol.Call{ChatID: from, From: from, Timestamp: e.Timestamp}
	case *events.OfflineSyncCompleted, *events.AppStateSyncComplete, *events.PairSuccess,
		*events.KeepAliveRestored, *events.KeepAliveTimeout, *events.OfflineSyncPreview:
		return nil
	}
	return &protocol.Unhandled{Kind: fmt.Sprintf("%T", raw)}
}

func (c *Client) messageInfo(info types.MessageInfo) protocol.MessageInfo {
	return protocol.MessageInfo{
		ChatID:     c.userID(info.Chat),
		SenderID:   c.userID(info.Sender),
		SenderName: info.PushName,
		ID:         info.ID,
		Timestamp:  info.Timestamp,
		FromMe:     info.IsFromMe,
		IsGroup:    info.IsGroup,
	}
}

func (c *Client) conversation(jid types.JID) protocol.Conversation {
	if jid.Server == types.GroupServer {
		return protocol.Conversation{GroupID: jid.String()}
	}
	return protocol.Conversation{ServiceID: c.userID(jid)}
}

func (c *Client) translateMessage(info protocol.MessageInfo, msg *waE2E.Message) protocol.Event {
	if msg == nil {
		return &protocol.Unhandled{Kind: "empty message"}
	}
	if pm := msg.GetProtocolMessage(); pm != nil {
		switch pm.GetType() {
		case waE2E.ProtocolMessage_REVOKE:
			return &protocol.Message{Info: info, Data: &protocol.DataMessage{Delete: &protocol.Delete{
				TargetID:       pm.GetKey().GetID(),
				TargetAuthorID: c.keyAuthor(info, pm.GetKey().GetParticipant(), pm.GetKey().GetFromMe()),
			}}}
		case waE2E.ProtocolMessage_MESSAGE_EDIT:
			return &protocol.Edit{
				Info:     info,
				TargetID: pm.GetKey().GetID(),
				Data:     c.dataMessage(pm.GetEditedMessage()),
			}
		case waE2E.ProtocolMessage_EPHEMERAL_SETTING:
			return &protocol.Message{Info: info, Data: &protocol.DataMessage{Flags: protocol.FlagExpirationTimerUpdate}}
		}
		return &protocol.Unhandled{Kind: "protocol message " + pm.GetType().String()}
	}
	if r := msg.GetReactionMessage(); r != nil {
		return &protocol.Message{Info: info, Data: &protocol.DataMessage{Reaction: &protocol.Reaction{
			Emoji:          r.GetText(),
			Remove:         r.GetText() == "",
			TargetID:       r.GetKey().GetID(),
			TargetAuthorID: c.keyAuthor(info, r.GetKey().GetParticipant(), r.GetKey().GetFromMe()),
		}}}
	}
	return &protocol.Message{Info: info, Data: c.dataMessage(msg)}
}

// keyAuthor resolves the author of a message key relative to info's chat.
func (c *Client) keyAuthor(info protocol.MessageInfo, participant string, fromMe bool) string {
	if participant != "" {
		if jid, err := types.ParseJID(participant); err == nil {
			return c.userID(jid)
		}
	}
	if fromMe {
		if info.FromMe {
			return info.SenderID
		}
		return c.self
	}
	if info.IsGroup {
		return ""
	}
	if info.FromMe {
		return info.ChatID
	}
	return info.SenderID
}

func (c *Client) dataMessage(msg *waE2E.Message) *protocol.DataMessage {
	dm := &protocol.DataMessage{}
	if msg == nil {
		return dm
	}
	ci := contextInfo(msg)
	dm.Body, dm.BodyRanges = c.mentions(extractTextBody(msg), ci.GetMentionedJID())
	if id := ci.GetStanzaID(); id != "" {
		dm.Quote = &protocol.Quote{ID: id, Text: extractTextBody(ci.GetQuotedMessage())}
		if jid, err := types.ParseJID(ci.GetParticipant()); err == nil {
			dm.Quote.AuthorID = c.userID(jid)
		}
	}
	if ptr := attachmentPointer(msg); ptr != nil {
		dm.Attachments = []*protocol.AttachmentPointer{ptr}
	}
	dm.Kind = detectContentKind(msg)
	return dm
}

// mentions replaces each "@user" token of a mentioned JID with a
// placeholder covered by a mention range.
func (c *Client) mentions(text string, jids []string) (string, []markup.Range) {
	if len(jids) == 0 {
		return text, nil
	}
	var (
		b      strings.Builder
		ranges []markup.Range
		pos    int
	)
	for _, raw := range jids {
		jid, err := types.ParseJID(raw)
		if err != nil {
			continue
		}
		token := "@" + jid.User
		i := strings.Index(text[pos:], token)
		if i < 0 {
			continue
		}
		b.WriteString(text[pos : pos+i])
		ranges = append(ranges, markup.Range{
			Start:     markup.UTF16Len(b.String()),
			Length:    1,
			MentionID: c.userID(jid),
		})
		b.WriteRune(markup.Placeholder)
		pos += i + len(token)
	}
	b.WriteString(text[pos:])
	return b.String(), ranges
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func contextInfo(msg *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetContextInfo()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetContextInfo()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage().GetContextInfo()
	}
	return nil
}

func detectContentKind(msg *waE2E.Message) protocol.ContentKind {
	switch {
	case msg.GetStickerMessage() != nil:
		return protocol.ContentSticker
	case msg.GetContactMessage() != nil, msg.GetContactsArrayMessage() != nil:
		return protocol.ContentContact
	case msg.GetLocationMessage() != nil, msg.GetLiveLocationMessage() != nil:
		return protocol.ContentLocation
	case msg.GetPollCreationMessage() != nil, msg.GetPollCreationMessageV2() != nil, msg.GetPollCreationMessageV3() != nil:
		return protocol.ContentPoll
	case msg.GetPollUpdateMessage() != nil:
		return protocol.ContentPollVote
	case msg.GetRequestPaymentMessage() != nil, msg.GetSendPaymentMessage() != nil:
		return protocol.ContentPayment
	}
	return protocol.ContentText
}

// media is the subset of the generated media message getters the bridge
// reads.
type media interface {
	whatsmeow.DownloadableMessage
	GetURL() string
	GetMimetype() string
	GetFileLength() uint64
}

func attachmentPointer(msg *waE2E.Message) *protocol.AttachmentPointer {
	var (
		m         media
		mediaType whatsmeow.MediaType
		fileName  string
	)
	switch {
	case msg.GetImageMessage() != nil:
		m, mediaType = msg.GetImageMessage(), whatsmeow.MediaImage
	case msg.GetVideoMessage() != nil:
		m, mediaType = msg.GetVideoMessage(), whatsmeow.MediaVideo
	case msg.GetAudioMessage() != nil:
		m, mediaType = msg.GetAudioMessage(), whatsmeow.MediaAudio
	case msg.GetDocumentMessage() != nil:
		m, mediaType = msg.GetDocumentMessage(), whatsmeow.MediaDocument
		fileName = msg.GetDocumentMessage().GetFileName()
	case msg.GetStickerMessage() != nil:
		m, mediaType = msg.GetStickerMessage(), whatsmeow.MediaImage
	default:
		return nil
	}
	return &protocol.AttachmentPointer{
		URL:           m.GetURL(),
		CdnKey:        m.GetDirectPath(),
		MediaType:     string(mediaType),
		Key:           m.GetMediaKey(),
		Digest:        m.GetFileEncSHA256(),
		PlaintextHash: m.GetFileSHA256(),
		Size:          m.GetFileLength(),
		ContentType:   m.GetMimetype(),
		FileName:      fileName,
	}
}

func (c *Client) translateReceipt(e *events.Receipt) protocol.Event {
	info := protocol.MessageInfo{
		ChatID:    c.userID(e.Chat),
		SenderID:  c.userID(e.Sender),
		Timestamp: e.Timestamp,
		FromMe:    e.IsFromMe,
		IsGroup:   e.IsGroup,
	}
	ids := make([]string, len(e.MessageIDs))
	copy(ids, e.MessageIDs)

	switch e.Type {
	case types.ReceiptTypeDelivered:
		return &protocol.Receipt{Info: info, Type: protocol.ReceiptDelivery, MessageIDs: ids}
	case types.ReceiptTypeRead:
		return &protocol.Receipt{Info: info, Type: protocol.ReceiptRead, MessageIDs: ids}
	case types.ReceiptTypePlayed:
		return &protocol.Receipt{Info: info, Type: protocol.ReceiptViewed, MessageIDs: ids}
	case types.ReceiptTypeReadSelf:
		read := &protocol.ReadSelf{Messages: make([]protocol.ReadMessage, 0, len(ids))}
		for _, id := range ids {
			read.Messages = append(read.Messages, protocol.ReadMessage{ChatID: info.ChatID, MessageID: id})
		}
		return read
	}
	return nil
}

func (c *Client) translateGroupInfo(e *events.GroupInfo) protocol.Event {
	gc := &protocol.GroupChange{}
	for _, jid := range e.Join {
		gc.Added = append(gc.Added, c.userID(jid))
	}
	for _, jid := range e.Leave {
		gc.Removed = append(gc.Removed, c.userID(jid))
	}
	for _, jid := range append(append([]types.JID{}, e.Promote...), e.Demote...) {
		gc.RoleChanged = append(gc.RoleChanged, c.userID(jid))
	}
	if e.Name != nil {
		name := e.Name.Name
		gc.NewTitle = &name
	}
	if e.Topic != nil {
		gc.DescriptionChanged = true
	}
	if e.Ephemeral != nil {
		gc.TimerChanged = true
	}
	if e.Announce != nil {
		only := e.Announce.IsAnnounce
		gc.AnnouncementsOnly = &only
	}
	if e.NewInviteLink != nil {
		gc.InvitesRevoked++
	}

	info := protocol.MessageInfo{
		ChatID:    c.userID(e.JID),
		ID:        fmt.Sprintf("group-%d", e.Timestamp.UnixMilli()),
		Timestamp: e.Timestamp,
		IsGroup:   true,
	}
	if e.Sender != nil {
		info.SenderID = c.userID(*e.Sender)
		info.FromMe = info.SenderID == c.self
	}
	return &protocol.Message{Info: info, Data: &protocol.DataMessage{GroupChange: gc}}
}

// setPinned updates the ordered pin list and returns a snapshot. New pins
// go to the front.
func (c *Client) setPinned(chatID string, pinned bool) []string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	next := make([]string, 0, len(c.pinned)+1)
	if pinned {
		next = append(next, chatID)
	}
	for _, id := range c.pinned {
		if id != chatID {
			next = append(next, id)
		}
	}
	c.pinned = next
	return append([]string(nil), next...)
}

func (c *Client) translateHistory(data *waHistorySync.HistorySync) []protocol.Event {
	type pin struct {
		id string
		at uint32
	}
	var (
		out  []protocol.Event
		pins []pin
	)
	now := time.Now()
	for _, conv := range data.GetConversations() {
		chat, err := types.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		chatID := c.userID(chat)

		batch := &protocol.HistoryBatch{ChatID: chatID}
		for _, hm := range conv.GetMessages() {
			wmi := hm.GetMessage()
			if wmi == nil || wmi.GetMessage() == nil {
				continue
			}
			evt := c.translateMessage(c.historyInfo(chat, wmi), wmi.GetMessage())
			if m, ok := evt.(*protocol.Message); ok {
				batch.Messages = append(batch.Messages, m)
			}
		}
		if len(batch.Messages) > 0 {
			sort.SliceStable(batch.Messages, func(i, j int) bool {
				return batch.Messages[i].Info.Timestamp.Before(batch.Messages[j].Info.Timestamp)
			})
			out = append(out, batch)
		}

		if conv.GetPinned() > 0 {
			pins = append(pins, pin{id: chatID, at: conv.GetPinned()})
		}
		if end := conv.GetMuteEndTime(); end > 0 && time.Unix(int64(end), 0).After(now) {
			out = append(out, &protocol.MuteChanged{ChatID: chatID, Muted: true})
		}
	}

	if len(pins) > 0 {
		sort.SliceStable(pins, func(i, j int) bool { return pins[i].at > pins[j].at })
		ids := make([]string, len(pins))
		for i, p := range pins {
			ids[i] = p.id
		}
		c.stateMu.Lock()
		c.pinned = ids
		c.stateMu.Unlock()
		out = append(out, &protocol.PinnedChanged{ChatIDs: append([]string(nil), ids...)})
	}
	return out
}

func (c *Client) historyInfo(chat types.JID, wmi *waWeb.WebMessageInfo) protocol.MessageInfo {
	key := wmi.GetKey()
	info := protocol.MessageInfo{
		ChatID:     c.userID(chat),
		ID:         key.GetID(),
		SenderName: wmi.GetPushName(),
		Timestamp:  time.Unix(int64(wmi.GetMessageTimestamp()), 0),
		FromMe:     key.GetFromMe(),
		IsGroup:    chat.Server == types.GroupServer,
	}
	switch {
	case info.FromMe:
		info.SenderID = c.self
	case info.IsGroup:
		participant := wmi.GetParticipant()
		if participant == "" {
			participant = key.GetParticipant()
		}
		if jid, err := types.ParseJID(participant); err == nil {
			info.SenderID = c.userID(jid)
		}
	default:
		info.SenderID = info.ChatID
	}
	return info
}
