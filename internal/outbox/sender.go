// Package outbox drains queued messages through the adapter.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/chatbridge/internal/adapter"
	"github.com/matheus3301/chatbridge/internal/bus"
	"github.com/matheus3301/chatbridge/internal/notify"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"github.com/matheus3301/chatbridge/internal/store"
	"go.uber.org/zap"
)

// Event kinds published per drained entry.
const (
	KindSent   = "outbox.sent"
	KindFailed = "outbox.failed"
)

const defaultInterval = 500 * time.Millisecond

// Result is the payload of KindSent and KindFailed.
type Result struct {
	ClientMsgID string
	ChatID      string
	ServerMsgID string
	Error       string
}

// MessageSender is satisfied by *adapter.Adapter.
type MessageSender interface {
	SendMessage(ctx context.Context, connID int, req adapter.SendRequest) (notify.Message, error)
}

// Sender drains the outbox for one account.
type Sender struct {
	db       *store.DB
	sender   MessageSender
	bus      *bus.Bus
	connID   int
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender creates a new outbox sender for connection connID.
func NewSender(db *store.DB, sender MessageSender, b *bus.Bus, connID int, logger *zap.Logger) *Sender {
	return &Sender{
		db:       db,
		sender:   sender,
		bus:      b,
		connID:   connID,
		interval: defaultInterval,
		logger:   logger,
	}
}

// Start requeues entries interrupted by a previous run and begins polling.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueSending(); err != nil {
		s.logger.Error("failed to requeue interrupted entries", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted outbox entries", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for an in-flight send.
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		msg, err := s.sender.SendMessage(ctx, s.connID, s.request(entry))
		if errors.Is(err, protocol.ErrNotConnected) || errors.Is(err, context.Canceled) {
			// Offline: keep the entry queued for the next tick.
			if _, rerr := s.db.RequeueSending(); rerr != nil {
				s.logger.Error("failed to requeue", zap.Error(rerr))
			}
			return
		}
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			if merr := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); merr != nil {
				s.logger.Error("failed to mark failed", zap.Error(merr))
			}
			s.publish(KindFailed, Result{ClientMsgID: entry.ClientMsgID, ChatID: entry.ChatID, Error: err.Error()})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, msg.ID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("server_msg_id", msg.ID))
		s.publish(KindSent, Result{ClientMsgID: entry.ClientMsgID, ChatID: entry.ChatID, ServerMsgID: msg.ID})
	}
}

// request builds the send request, filling the quote from the stored
// message when it is known.
func (s *Sender) request(entry store.OutboxEntry) adapter.SendRequest {
	req := adapter.SendRequest{
		ChatID:   entry.ChatID,
		Text:     entry.Body,
		QuotedID: entry.QuotedID,
		FilePath: entry.FilePath,
	}
	if entry.QuotedID == "" {
		return req
	}
	quoted, err := s.db.GetMessage(entry.ChatID, entry.QuotedID)
	if err != nil {
		s.logger.Warn("failed to load quoted message", zap.Error(err), zap.String("quoted_id", entry.QuotedID))
		return req
	}
	if quoted != nil {
		req.QuotedText = quoted.Body
		req.QuotedSender = quoted.SenderID
	}
	return req
}

func (s *Sender) publish(kind string, r Result) {
	s.bus.Publish(bus.Event{
		Kind:      kind,
		Account:   s.connID,
		Timestamp: time.Now(),
		Payload:   r,
	})
}
