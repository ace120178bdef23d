package wa

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/matheus3301/chatbridge/internal/markup"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"go.mau.fi/util/ptr"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
)

var mentionToken = regexp.MustCompile(`@(\d{5,})`)

// Send delivers msg to chatID.
func (c *Client) Send(ctx context.Context, chatID string, msg protocol.Outgoing) (protocol.SendResult, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return protocol.SendResult{}, fmt.Errorf("parse JID: %w", err)
	}

	switch m := msg.(type) {
	case *protocol.DataMessage:
		var out *waE2E.Message
		switch {
		case m.Reaction != nil:
			emoji := m.Reaction.Emoji
			if m.Reaction.Remove {
				emoji = ""
			}
			out = c.cli.BuildReaction(to, c.author(m.Reaction.TargetAuthorID), m.Reaction.TargetID, emoji)
		case m.Delete != nil:
			out = c.cli.BuildRevoke(to, c.author(m.Delete.TargetAuthorID), m.Delete.TargetID)
		default:
			out = c.buildMessage(m)
		}
		return c.sendMessage(ctx, to, out)
	case *protocol.EditMessage:
		return c.sendMessage(ctx, to, c.cli.BuildEdit(to, m.TargetID, c.buildMessage(m.Data)))
	case *protocol.TypingMessage:
		state := types.ChatPresencePaused
		if m.Started {
			state = types.ChatPresenceComposing
		}
		if err := c.cli.SendChatPresence(ctx, to, state, types.ChatPresenceMediaText); err != nil {
			return protocol.SendResult{}, fmt.Errorf("send chat presence: %w", err)
		}
		return protocol.SendResult{}, nil
	case *protocol.ReceiptMessage:
		return protocol.SendResult{}, c.markRead(ctx, to, m)
	case *protocol.DeleteSync:
		return protocol.SendResult{}, c.deleteChat(ctx, to, m)
	}
	return protocol.SendResult{}, protocol.ErrUnsupported
}

func (c *Client) sendMessage(ctx context.Context, to types.JID, msg *waE2E.Message) (protocol.SendResult, error) {
	resp, err := c.cli.SendMessage(ctx, to, msg)
	if err != nil {
		return protocol.SendResult{}, fmt.Errorf("send message: %w", err)
	}
	return protocol.SendResult{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *Client) markRead(ctx context.Context, chat types.JID, m *protocol.ReceiptMessage) error {
	if m.Type != protocol.ReceiptRead && m.Type != protocol.ReceiptViewed {
		return protocol.ErrUnsupported
	}
	sender := types.EmptyJID
	if m.SenderID != "" && chat.Server == types.GroupServer {
		jid, err := types.ParseJID(m.SenderID)
		if err != nil {
			return fmt.Errorf("parse sender JID: %w", err)
		}
		sender = jid
	}
	var extra []types.ReceiptType
	if m.Type == protocol.ReceiptViewed {
		extra = append(extra, types.ReceiptTypePlayed)
	}
	if err := c.cli.MarkRead(ctx, m.MessageIDs, time.Now(), chat, sender, extra...); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// deleteChat syncs a chat deletion to the other linked devices, anchored on
// the newest known message.
func (c *Client) deleteChat(ctx context.Context, chat types.JID, m *protocol.DeleteSync) error {
	if len(m.Anchors) == 0 {
		return errors.New("delete chat: no anchor message")
	}
	last := m.Anchors[len(m.Anchors)-1]
	key := &waCommon.MessageKey{
		RemoteJID: ptr.Ptr(chat.String()),
		FromMe:    ptr.Ptr(last.AuthorID == c.self),
		ID:        ptr.Ptr(last.MessageID),
	}
	if chat.Server == types.GroupServer && last.AuthorID != c.self {
		key.Participant = ptr.NonZero(last.AuthorID)
	}
	patch := appstate.BuildDeleteChat(chat, last.Timestamp, key, true)
	if err := c.cli.SendAppState(ctx, patch); err != nil {
		return fmt.Errorf("send delete chat: %w", err)
	}
	return nil
}

// author returns the JID of a target message author, defaulting to self.
func (c *Client) author(id string) types.JID {
	if id == "" {
		id = c.self
	}
	jid, err := types.ParseJID(id)
	if err != nil {
		c.logger.Debug("invalid author id", zap.String("id", id), zap.Error(err))
		return types.EmptyJID
	}
	return jid
}

// buildMessage renders dm as a WhatsApp message. Styles become inline
// markers and mentions become "@number" tokens.
func (c *Client) buildMessage(dm *protocol.DataMessage) *waE2E.Message {
	if dm == nil {
		return &waE2E.Message{}
	}
	text := markup.Render(dm.Body, dm.BodyRanges, mentionNumber, markup.Options{})

	ci := &waE2E.ContextInfo{}
	hasContext := false
	for _, jid := range mentionedJIDs(text) {
		ci.MentionedJID = append(ci.MentionedJID, jid)
		hasContext = true
	}
	if q := dm.Quote; q != nil && q.ID != "" {
		ci.StanzaID = ptr.Ptr(q.ID)
		ci.Participant = ptr.NonZero(q.AuthorID)
		ci.QuotedMessage = &waE2E.Message{Conversation: ptr.Ptr(q.Text)}
		hasContext = true
	}
	if !hasContext {
		ci = nil
	}

	if len(dm.Attachments) > 0 && dm.Attachments[0] != nil {
		return mediaMessage(dm.Attachments[0], text, ci)
	}
	if ci == nil {
		return &waE2E.Message{Conversation: ptr.Ptr(text)}
	}
	return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        ptr.Ptr(text),
		ContextInfo: ci,
	}}
}

func mentionNumber(id string) string {
	if jid, err := types.ParseJID(id); err == nil {
		return jid.User
	}
	return id
}

// mentionedJIDs lists the user JIDs of "@number" tokens in text.
func mentionedJIDs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionToken.FindAllStringSubmatch(text, -1) {
		jid := types.NewJID(m[1], types.DefaultUserServer).String()
		if !seen[jid] {
			seen[jid] = true
			out = append(out, jid)
		}
	}
	return out
}

func mediaMessage(p *protocol.AttachmentPointer, caption string, ci *waE2E.ContextInfo) *waE2E.Message {
	switch whatsmeow.MediaType(p.MediaType) {
	case whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       ptr.NonZero(caption),
			Mimetype:      ptr.NonZero(p.ContentType),
			URL:           ptr.NonZero(p.URL),
			DirectPath:    ptr.NonZero(p.CdnKey),
			MediaKey:      p.Key,
			FileEncSHA256: p.Digest,
			FileSHA256:    p.PlaintextHash,
			FileLength:    ptr.Ptr(p.Size),
			ContextInfo:   ci,
		}}
	case whatsmeow.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       ptr.NonZero(caption),
			Mimetype:      ptr.NonZero(p.ContentType),
			URL:           ptr.NonZero(p.URL),
			DirectPath:    ptr.NonZero(p.CdnKey),
			MediaKey:      p.Key,
			FileEncSHA256: p.Digest,
			FileSHA256:    p.PlaintextHash,
			FileLength:    ptr.Ptr(p.Size),
			ContextInfo:   ci,
		}}
	case whatsmeow.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      ptr.NonZero(p.ContentType),
			URL:           ptr.NonZero(p.URL),
			DirectPath:    ptr.NonZero(p.CdnKey),
			MediaKey:      p.Key,
			FileEncSHA256: p.Digest,
			FileSHA256:    p.PlaintextHash,
			FileLength:    ptr.Ptr(p.Size),
			ContextInfo:   ci,
		}}
	}
	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		Caption:       ptr.NonZero(caption),
		Title:         ptr.NonZero(p.FileName),
		FileName:      ptr.NonZero(p.FileName),
		Mimetype:      ptr.NonZero(p.ContentType),
		URL:           ptr.NonZero(p.URL),
		DirectPath:    ptr.NonZero(p.CdnKey),
		MediaKey:      p.Key,
		FileEncSHA256: p.Digest,
		FileSHA256:    p.PlaintextHash,
		FileLength:    ptr.Ptr(p.Size),
		ContextInfo:   ci,
	}}
}

func mediaTypeFor(contentType string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(contentType, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(contentType, "audio/"):
		return whatsmeow.MediaAudio
	}
	return whatsmeow.MediaDocument
}

// Upload encrypts and uploads data.
func (c *Client) Upload(ctx context.Context, data []byte, contentType, fileName string) (*protocol.AttachmentPointer, error) {
	mediaType := mediaTypeFor(contentType)
	resp, err := c.cli.Upload(ctx, data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	return &protocol.AttachmentPointer{
		URL:           resp.URL,
		CdnKey:        resp.DirectPath,
		MediaType:     string(mediaType),
		Key:           resp.MediaKey,
		Digest:        resp.FileEncSHA256,
		PlaintextHash: resp.FileSHA256,
		Size:          resp.FileLength,
		ContentType:   contentType,
		FileName:      fileName,
	}, nil
}

// Download fetches and decrypts the attachment p points at.
func (c *Client) Download(ctx context.Context, p *protocol.AttachmentPointer) ([]byte, error) {
	if !p.HasLocator() {
		return nil, errors.New("attachment has no locator")
	}
	msg := mediaMessage(p, "", nil)
	var dl whatsmeow.DownloadableMessage
	switch {
	case msg.GetImageMessage() != nil:
		dl = msg.GetImageMessage()
	case msg.GetVideoMessage() != nil:
		dl = msg.GetVideoMessage()
	case msg.GetAudioMessage() != nil:
		dl = msg.GetAudioMessage()
	default:
		dl = msg.GetDocumentMessage()
	}
	data, err := c.cli.Download(ctx, dl)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	return data, nil
}
