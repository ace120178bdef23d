package adapter

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matheus3301/chatbridge/internal/account"
	"github.com/matheus3301/chatbridge/internal/attachment"
	"github.com/matheus3301/chatbridge/internal/chatstate"
	"github.com/matheus3301/chatbridge/internal/markup"
	"github.com/matheus3301/chatbridge/internal/notify"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"go.uber.org/zap"
)

// SendRequest is an outgoing message written in markdown.
type SendRequest struct {
	ChatID       string
	Text         string
	QuotedID     string
	QuotedText   string
	QuotedSender string
	FilePath     string
}

// SendMessage sends a message and echoes it as a new outgoing message.
func (a *Adapter) SendMessage(ctx context.Context, connID int, req SendRequest) (notify.Message, error) {
	acc, err := a.accounts.Get(connID)
	if err != nil {
		return notify.Message{}, err
	}
	client, err := a.accounts.Client(connID)
	if err != nil {
		return notify.Message{}, err
	}

	acc.Notifier.SetFlag(notify.FlagSending)
	defer acc.Notifier.ClearFlag(notify.FlagSending)

	plain, ranges := markup.Parse(req.Text)
	dm := &protocol.DataMessage{Body: plain, BodyRanges: ranges}
	if req.QuotedID != "" {
		dm.Quote = &protocol.Quote{ID: req.QuotedID, AuthorID: req.QuotedSender, Text: req.QuotedText}
	}

	var ptr *protocol.AttachmentPointer
	if req.FilePath != "" {
		ptr, err = a.upload(ctx, client, req.FilePath)
		if err != nil {
			return notify.Message{}, err
		}
		dm.Attachments = []*protocol.AttachmentPointer{ptr}
	}

	res, err := client.Send(ctx, req.ChatID, dm)
	if err != nil {
		return notify.Message{}, fmt.Errorf("send message: %w", err)
	}

	msg := notify.Message{
		ID:         res.ID,
		ChatID:     req.ChatID,
		SenderID:   a.accounts.SelfID(connID),
		Text:       markup.Render(plain, ranges, acc.ContactName, markup.Options{QuoteMentions: a.opts.MentionsQuoted}),
		QuotedID:   req.QuotedID,
		FileStatus: notify.FileStatusNone,
		IsOutgoing: true,
		IsRead:     true,
		Timestamp:  millis(res.Timestamp),
	}
	if ptr != nil {
		if id := attachment.IdentifierFor(ptr, req.FilePath); id != "" {
			msg.FileID = id
			msg.FilePath = req.FilePath
			msg.FileStatus = notify.FileStatusDownloaded
		}
	}
	acc.Notifier.NewMessage(msg)
	acc.Tracker.TrackRecent(req.ChatID, chatstate.RecentMessage{
		SenderID:  msg.SenderID,
		MessageID: msg.ID,
		Timestamp: msg.Timestamp,
	})
	return msg, nil
}

func (a *Adapter) upload(ctx context.Context, client protocol.Client, path string) (*protocol.AttachmentPointer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	ptr, err := client.Upload(ctx, data, contentType, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	return ptr, nil
}

// EditMessage replaces the text of an earlier outgoing message.
func (a *Adapter) EditMessage(ctx context.Context, connID int, chatID, msgID, text string) error {
	acc, err := a.accounts.Get(connID)
	if err != nil {
		return err
	}
	client, err := a.accounts.Client(connID)
	if err != nil {
		return err
	}
	plain, ranges := markup.Parse(text)
	res, err := client.Send(ctx, chatID, &protocol.EditMessage{
		TargetID: msgID,
		Data:     &protocol.DataMessage{Body: plain, BodyRanges: ranges},
	})
	if err != nil {
		return fmt.Errorf("send edit: %w", err)
	}
	acc.Notifier.NewMessage(notify.Message{
		ID:         msgID,
		ChatID:     chatID,
		SenderID:   a.accounts.SelfID(connID),
		Text:       markup.Render(plain, ranges, acc.ContactName, markup.Options{QuoteMentions: a.opts.MentionsQuoted}),
		FileStatus: notify.FileStatusNone,
		IsOutgoing: true,
		IsRead:     true,
		IsEdited:   true,
		Timestamp:  millis(res.Timestamp),
	})
	return nil
}

// SendTyping starts or stops our typing indicator in a chat.
func (a *Adapter) SendTyping(ctx context.Context, connID int, chatID string, typing bool) error {
	client, err := a.accounts.Client(connID)
	if err != nil {
		return err
	}
	if _, err := client.Send(ctx, chatID, &protocol.TypingMessage{Started: typing}); err != nil {
		return fmt.Errorf("send typing: %w", err)
	}
	return nil
}

// SendReaction reacts to a message. An empty emoji removes our reaction.
func (a *Adapter) SendReaction(ctx context.Context, connID int, chatID, msgID, senderID, emoji string) error {
	acc, err := a.accounts.Get(connID)
	if err != nil {
		return err
	}
	client, err := a.accounts.Client(connID)
	if err != nil {
		return err
	}
	_, err = client.Send(ctx, chatID, &protocol.DataMessage{Reaction: &protocol.Reaction{
		Emoji:          emoji,
		Remove:         emoji == "",
		TargetAuthorID: senderID,
		TargetID:       msgID,
	}})
	if err != nil {
		return fmt.Errorf("send reaction: %w", err)
	}
	acc.Notifier.MessageReaction(notify.Reaction{
		ChatID:   chatID,
		MsgID:    msgID,
		SenderID: a.accounts.SelfID(connID),
		Emoji:    emoji,
		FromMe:   true,
	})
	return nil
}

// MarkRead sends a read receipt for a message.
func (a *Adapter) MarkRead(ctx context.Context, connID int, chatID, msgID, senderID string) error {
	client, err := a.accounts.Client(connID)
	if err != nil {
		return err
	}
	_, err = client.Send(ctx, chatID, &protocol.ReceiptMessage{
		Type:       protocol.ReceiptRead,
		SenderID:   senderID,
		MessageIDs: []string{msgID},
	})
	if err != nil {
		return fmt.Errorf("send receipt: %w", err)
	}
	return nil
}

// DeleteMessage deletes a message for everyone.
func (a *Adapter) DeleteMessage(ctx context.Context, connID int, chatID, msgID, senderID string) error {
	acc, err := a.accounts.Get(connID)
	if err != nil {
		return err
	}
	client, err := a.accounts.Client(connID)
	if err != nil {
		return err
	}
	_, err = client.Send(ctx, chatID, &protocol.DataMessage{Delete: &protocol.Delete{
		TargetID:       msgID,
		TargetAuthorID: senderID,
	}})
	if err != nil {
		return fmt.Errorf("send delete: %w", err)
	}
	acc.Notifier.MessageDeleted(chatID, msgID)
	return nil
}

// DeleteChat deletes a chat on all linked devices, anchored on its most
// recent messages, and purges it from the cache.
func (a *Adapter) DeleteChat(ctx context.Context, connID int, chatID string) error {
	acc, err := a.accounts.Get(connID)
	if err != nil {
		return err
	}
	client, err := a.accounts.Client(connID)
	if err != nil {
		return err
	}
	recent := acc.Tracker.Recent(chatID)
	anchors := make([]protocol.AddressableMessage, 0, len(recent))
	for _, r := range recent {
		anchors = append(anchors, protocol.AddressableMessage{
			AuthorID:  r.SenderID,
			MessageID: r.MessageID,
			Timestamp: time.UnixMilli(r.Timestamp),
		})
	}
	if _, err := client.Send(ctx, chatID, &protocol.DeleteSync{Anchors: anchors}); err != nil {
		return fmt.Errorf("send delete sync: %w", err)
	}
	a.purge(acc, chatID)
	acc.Notifier.ChatDeleted(chatID)
	return nil
}

// DownloadFile resolves a message attachment to a local file and reports
// the outcome as a file status change.
func (a *Adapter) DownloadFile(ctx context.Context, connID int, chatID, msgID, fileID string, action int) (string, notify.FileStatus, error) {
	acc, err := a.accounts.Get(connID)
	if err != nil {
		return "", notify.FileStatusDownloadFailed, err
	}
	fetcher := &accountFetcher{accounts: a.accounts, connID: connID}
	acc.Notifier.MessageFile(notify.FileChange{ChatID: chatID, MsgID: msgID, Status: notify.FileStatusDownloading, Action: action})
	path, st := a.gateway.Resolve(ctx, fileID, fetcher, acc.Notifier)
	acc.Notifier.MessageFile(notify.FileChange{ChatID: chatID, MsgID: msgID, FilePath: path, Status: st, Action: action})
	if st != notify.FileStatusDownloaded {
		a.logger.Warn("file not available", zap.Int("conn", connID), zap.String("msg", msgID))
		if fetcher.offline() {
			return path, st, protocol.ErrNotConnected
		}
	}
	return path, st, nil
}

// accountFetcher looks up the account's client only when the gateway misses
// the local cache.
type accountFetcher struct {
	accounts *account.Manager
	connID   int

	mu      sync.Mutex
	refused bool
}

func (f *accountFetcher) Download(ctx context.Context, ptr *protocol.AttachmentPointer) ([]byte, error) {
	client, err := f.accounts.Client(f.connID)
	if err != nil {
		f.mu.Lock()
		f.refused = true
		f.mu.Unlock()
		return nil, err
	}
	return client.Download(ctx, ptr)
}

func (f *accountFetcher) offline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refused
}

// RequestContacts asks the protocol for a fresh contact list.
func (a *Adapter) RequestContacts(ctx context.Context, connID int) error {
	client, err := a.accounts.Client(connID)
	if err != nil {
		return err
	}
	return client.RequestContacts(ctx)
}
