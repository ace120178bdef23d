// Package ingest applies chat notifications from the bus to the local cache.
package ingest

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/matheus3301/chatbridge/internal/bus"
	"github.com/matheus3301/chatbridge/internal/notify"
	"github.com/matheus3301/chatbridge/internal/store"
	"go.uber.org/zap"
)

const previewLen = 100

// Engine handles idempotent ingestion of notifications into the store. Its
// bus subscription is reliable, so no notification is dropped.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new ingestion engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to the bus and applies notifications in order.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.SubscribeReliable("", 1024)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the loop to exit.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

func (e *Engine) handleEvent(evt bus.Event) {
	var err error
	switch p := evt.Payload.(type) {
	case notify.Contact:
		err = e.db.UpsertContact(&store.Contact{ID: p.ID, Name: p.Name, Phone: p.Phone, IsSelf: p.IsSelf})
	case notify.Chat:
		err = e.db.UpsertChat(&store.Chat{
			ID:            p.ID,
			Name:          p.Name,
			IsGroup:       p.IsGroup,
			IsUnread:      p.IsUnread,
			IsMuted:       p.IsMuted,
			LastMessageAt: p.LastActivity,
		})
	case notify.Message:
		err = e.IngestMessage(p)
	case notify.HistoryBatch:
		err = e.IngestHistoryBatch(p)
	case notify.MessageStatus:
		if p.IsRead {
			err = e.db.MarkMessageRead(p.ChatID, p.MsgID)
		}
	case notify.FileChange:
		err = e.db.SetMessageFile(p.ChatID, p.MsgID, p.FilePath, int(p.Status))
	case notify.Reaction:
		err = e.db.SetReaction(&store.Reaction{
			ChatID:   p.ChatID,
			MsgID:    p.MsgID,
			SenderID: p.SenderID,
			Emoji:    p.Emoji,
			FromMe:   p.FromMe,
		})
	case notify.MessageRef:
		if evt.Kind == notify.KindMessageDeleted {
			err = e.db.DeleteMessage(p.ChatID, p.MsgID)
		}
	case notify.ChatRef:
		if evt.Kind == notify.KindChatDeleted {
			err = e.db.DeleteChat(p.ChatID)
		}
	case notify.Mute:
		err = e.db.SetChatMuted(p.ChatID, p.Muted)
	case notify.Pin:
		err = e.db.SetChatPinned(p.ChatID, p.Pinned, p.Rank)
	default:
		return
	}
	if err != nil {
		e.logger.Error("failed to ingest notification",
			zap.String("kind", evt.Kind),
			zap.Int("conn", evt.Account),
			zap.Error(err),
		)
	}
}

// IngestMessage stores a single message and advances its chat (idempotent).
// Edits only update a message already in the cache.
func (e *Engine) IngestMessage(m notify.Message) error {
	if m.IsEdited {
		found, err := e.db.EditMessage(m.ChatID, m.ID, m.Text, m.FileID)
		if err != nil {
			return fmt.Errorf("edit message: %w", err)
		}
		if !found {
			e.logger.Debug("edit for uncached message", zap.String("chat", m.ChatID), zap.String("msg", m.ID))
		}
		return nil
	}
	sm := toStore(m)
	unread := !m.IsOutgoing && !m.IsRead
	if err := e.db.TouchChat(sm.ChatID, sm.Timestamp, preview(&sm), unread); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	if err := e.db.UpsertMessage(&sm); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// IngestHistoryBatch stores a batch of history messages in a transaction.
func (e *Engine) IngestHistoryBatch(b notify.HistoryBatch) error {
	msgs := make([]store.Message, len(b.Messages))
	for i, m := range b.Messages {
		msgs[i] = toStore(m)
		if msgs[i].ChatID == "" {
			msgs[i].ChatID = b.ChatID
		}
	}
	if err := e.db.UpsertHistory(msgs, preview); err != nil {
		return err
	}
	e.logger.Info("history batch ingested", zap.String("chat", b.ChatID), zap.Int("messages", len(msgs)))
	return nil
}

func toStore(m notify.Message) store.Message {
	return store.Message{
		ChatID:     m.ChatID,
		MsgID:      m.ID,
		SenderID:   m.SenderID,
		Body:       m.Text,
		QuotedID:   m.QuotedID,
		FileID:     m.FileID,
		FilePath:   m.FilePath,
		FileStatus: int(m.FileStatus),
		FromMe:     m.IsOutgoing,
		IsRead:     m.IsRead || m.IsOutgoing,
		IsEdited:   m.IsEdited,
		Timestamp:  m.Timestamp,
	}
}

func preview(m *store.Message) string {
	s := m.Body
	if s == "" && m.FileID != "" {
		s = "[File]"
	}
	return truncate(s, previewLen)
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
