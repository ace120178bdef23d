package adapter

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatbridge/internal/account"
	"github.com/matheus3301/chatbridge/internal/attachment"
	"github.com/matheus3301/chatbridge/internal/chatstate"
	"github.com/matheus3301/chatbridge/internal/markup"
	"github.com/matheus3301/chatbridge/internal/notify"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"go.uber.org/zap"
)

var placeholders = map[protocol.ContentKind]string{
	protocol.ContentSticker:       "[Sticker]",
	protocol.ContentContact:       "[Contact]",
	protocol.ContentPayment:       "[Payment]",
	protocol.ContentGiftBadge:     "[GiftBadge]",
	protocol.ContentGroupCall:     "[GroupCall]",
	protocol.ContentStory:         "[Story]",
	protocol.ContentPoll:          "[Poll]",
	protocol.ContentPollVote:      "[PollVote]",
	protocol.ContentPollTerminate: "[PollTerminate]",
	protocol.ContentLocation:      "[Location]",
}

func placeholder(d *protocol.DataMessage) string {
	if p, ok := placeholders[d.Kind]; ok {
		return p
	}
	switch {
	case d.Flags&protocol.FlagExpirationTimerUpdate != 0:
		return "[ExpirationTimerUpdate]"
	case d.Flags&protocol.FlagEndSession != 0:
		return "[EndSession]"
	}
	return ""
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

func (a *Adapter) resolver(acc *account.Account) markup.MentionResolver {
	return acc.ContactName
}

func (a *Adapter) handleMessage(acc *account.Account, e *protocol.Message) {
	d, info := e.Data, e.Info
	if d == nil {
		return
	}
	if d.Reaction != nil {
		a.handleReaction(acc, info, d.Reaction)
		return
	}
	if d.Delete != nil {
		acc.Notifier.MessageDeleted(info.ChatID, d.Delete.TargetID)
		return
	}

	msg, ok := a.render(acc, info, d)
	if !ok {
		return
	}
	a.learnSender(acc, info)
	if !info.FromMe {
		acc.Notifier.TypingChanged(info.ChatID, info.SenderID, false)
	}
	acc.Notifier.NewMessage(msg)
	acc.Tracker.TrackRecent(info.ChatID, chatstate.RecentMessage{
		SenderID:  info.SenderID,
		MessageID: info.ID,
		Timestamp: msg.Timestamp,
	})
}

func (a *Adapter) handleEdit(acc *account.Account, e *protocol.Edit) {
	if e.Data == nil || e.TargetID == "" {
		return
	}
	msg, ok := a.render(acc, e.Info, e.Data)
	if !ok {
		return
	}
	msg.ID = e.TargetID
	msg.IsEdited = true
	if !e.Info.FromMe {
		acc.Notifier.TypingChanged(e.Info.ChatID, e.Info.SenderID, false)
	}
	acc.Notifier.NewMessage(msg)
}

func (a *Adapter) handleHistory(acc *account.Account, e *protocol.HistoryBatch) {
	batch := notify.HistoryBatch{ChatID: e.ChatID}
	for _, m := range e.Messages {
		if m == nil || m.Data == nil || m.Data.Reaction != nil || m.Data.Delete != nil {
			continue
		}
		msg, ok := a.render(acc, m.Info, m.Data)
		if !ok {
			continue
		}
		batch.Messages = append(batch.Messages, msg)
	}
	if len(batch.Messages) == 0 {
		return
	}
	acc.Notifier.NewHistory(batch)
}

// render converts a data message into a display message. It reports false
// when the message has neither text nor an attachment.
func (a *Adapter) render(acc *account.Account, info protocol.MessageInfo, d *protocol.DataMessage) (notify.Message, bool) {
	var text string
	switch {
	case d.GroupChange != nil && d.Body == "":
		text = strings.Join(a.groupSummary(acc, info, d.GroupChange), "\n")
	case d.Body == "":
		text = placeholder(d)
	default:
		text = markup.Render(d.Body, d.BodyRanges, a.resolver(acc), markup.Options{QuoteMentions: a.opts.MentionsQuoted})
	}

	msg := notify.Message{
		ID:         info.ID,
		ChatID:     info.ChatID,
		SenderID:   info.SenderID,
		Text:       text,
		FileStatus: notify.FileStatusNone,
		IsOutgoing: info.FromMe,
		IsRead:     info.FromMe,
		Timestamp:  millis(info.Timestamp),
	}
	if d.Quote != nil {
		msg.QuotedID = d.Quote.ID
	}
	if fileID := a.registerAttachment(acc, info, d.Attachments); fileID != "" {
		msg.FileID = fileID
		msg.FileStatus = notify.FileStatusNotDownloaded
	}
	if msg.Text == "" && msg.FileID == "" {
		return msg, false
	}
	return msg, true
}

// registerAttachment returns the file id of the first downloadable attachment.
func (a *Adapter) registerAttachment(acc *account.Account, info protocol.MessageInfo, ptrs []*protocol.AttachmentPointer) string {
	for _, ptr := range ptrs {
		if !ptr.HasLocator() {
			continue
		}
		name := filepath.Base(ptr.FileName)
		if name == "." || name == "/" || name == "" {
			name = attachmentStem(info) + attachment.ExtensionFor(ptr.ContentType)
		}
		id, err := attachment.Encode(ptr, filepath.Join(acc.AttachmentDir, name))
		if err != nil {
			a.logger.Warn("cannot register attachment", zap.Int("conn", acc.ID), zap.Error(err))
			continue
		}
		return id
	}
	return ""
}

// attachmentStem names an unnamed attachment after its message id, falling
// back to the message time in milliseconds.
func attachmentStem(info protocol.MessageInfo) string {
	if id := filepath.Base(info.ID); id != "." && id != "/" && !strings.HasPrefix(id, ".") {
		return id
	}
	ts := info.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return strconv.FormatInt(ts.UnixMilli(), 10)
}

// learnSender records the push name of a peer so mentions resolve to it.
func (a *Adapter) learnSender(acc *account.Account, info protocol.MessageInfo) {
	if info.FromMe || info.SenderName == "" || acc.ContactName(info.SenderID) != "" {
		return
	}
	acc.SetContactName(info.SenderID, info.SenderName)
	acc.Notifier.NewContact(notify.Contact{ID: info.SenderID, Name: info.SenderName})
}

func (a *Adapter) handleReaction(acc *account.Account, info protocol.MessageInfo, r *protocol.Reaction) {
	emoji := r.Emoji
	if r.Remove {
		emoji = ""
	}
	acc.Notifier.MessageReaction(notify.Reaction{
		ChatID:   info.ChatID,
		MsgID:    r.TargetID,
		SenderID: info.SenderID,
		Emoji:    emoji,
		FromMe:   info.FromMe,
	})
}

func (a *Adapter) handleTyping(acc *account.Account, e *protocol.Typing) {
	if e.Info.FromMe {
		return
	}
	acc.Notifier.TypingChanged(e.Info.ChatID, e.Info.SenderID, e.Started)
}

func (a *Adapter) handleDecryptionError(acc *account.Account, e *protocol.DecryptionError) {
	if e.Info.ID == "" {
		a.logger.Warn("decryption error", zap.Int("conn", acc.ID), zap.String("sender", e.Info.SenderID))
		return
	}
	acc.Notifier.NewMessage(notify.Message{
		ID:         e.Info.ID,
		ChatID:     e.Info.ChatID,
		SenderID:   e.Info.SenderID,
		Text:       "[Decryption failed]",
		FileStatus: notify.FileStatusNone,
		Timestamp:  millis(e.Info.Timestamp),
	})
}

func (a *Adapter) handleCall(acc *account.Account, e *protocol.Call) {
	chatID := e.ChatID
	if chatID == "" {
		chatID = e.From
	}
	text := "[Missed call]"
	if e.Ringing {
		text = "[Incoming call]"
	}
	ts := millis(e.Timestamp)
	acc.Notifier.NewMessage(notify.Message{
		ID:         fmt.Sprintf("call-%d", ts),
		ChatID:     chatID,
		SenderID:   e.From,
		Text:       text,
		FileStatus: notify.FileStatusNone,
		Timestamp:  ts,
	})
}
