// Package adapter turns protocol events into canonical chat notifications
// and carries outbound user actions to the protocol client.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatbridge/internal/account"
	"github.com/matheus3301/chatbridge/internal/attachment"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"go.uber.org/zap"
)

// Cache is the local message cache.
type Cache interface {
	PurgeChat(ctx context.Context, chatID string) error
}

// Options configures rendering.
type Options struct {
	MentionsQuoted bool
}

const purgeTimeout = 10 * time.Second

// Adapter dispatches protocol events for every account in the registry.
type Adapter struct {
	accounts *account.Manager
	gateway  *attachment.Gateway
	cache    Cache
	opts     Options
	logger   *zap.Logger
}

// New creates an adapter. cache may be nil.
func New(accounts *account.Manager, gateway *attachment.Gateway, cache Cache, opts Options, logger *zap.Logger) *Adapter {
	return &Adapter{
		accounts: accounts,
		gateway:  gateway,
		cache:    cache,
		opts:     opts,
		logger:   logger,
	}
}

// Run dispatches events in order until the channel is closed.
func (a *Adapter) Run(acc *account.Account, events <-chan protocol.Event) {
	a.logger.Debug("dispatch loop started", zap.Int("conn", acc.ID))
	for evt := range events {
		a.Dispatch(acc, evt)
	}
	a.logger.Debug("dispatch loop stopped", zap.Int("conn", acc.ID))
}

// Dispatch handles a single event. A failing handler is logged and does not
// affect later events.
func (a *Adapter) Dispatch(acc *account.Account, evt protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("event handler panicked",
				zap.Int("conn", acc.ID),
				zap.String("event", fmt.Sprintf("%T", evt)),
				zap.Any("panic", r))
		}
	}()

	switch e := evt.(type) {
	case *protocol.Message:
		a.handleMessage(acc, e)
	case *protocol.Typing:
		a.handleTyping(acc, e)
	case *protocol.Edit:
		a.handleEdit(acc, e)
	case *protocol.Receipt:
		a.handleReceipt(acc, e)
	case *protocol.ReadSelf:
		a.handleReadSelf(acc, e)
	case *protocol.ContactList:
		a.handleContactList(acc, e)
	case *protocol.DeleteForMe:
		a.handleDeleteForMe(acc, e)
	case *protocol.LoggedOut:
		a.handleLoggedOut(acc, e)
	case *protocol.PinnedChanged:
		a.handlePinned(acc, e)
	case *protocol.MuteChanged:
		a.handleMute(acc, e)
	case *protocol.DecryptionError:
		a.handleDecryptionError(acc, e)
	case *protocol.Call:
		a.handleCall(acc, e)
	case *protocol.HistoryBatch:
		a.handleHistory(acc, e)
	case *protocol.Unhandled:
		a.logger.Debug("unhandled protocol event", zap.Int("conn", acc.ID), zap.String("kind", e.Kind))
	default:
		a.logger.Info("unknown event", zap.Int("conn", acc.ID), zap.String("type", fmt.Sprintf("%T", evt)))
	}
}
