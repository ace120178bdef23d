package adapter

import (
	"context"

	"github.com/matheus3301/chatbridge/internal/account"
	"github.com/matheus3301/chatbridge/internal/notify"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"go.uber.org/zap"
)

// SelfName is the display name of the local account.
const SelfName = "You"

func (a *Adapter) handleReceipt(acc *account.Account, e *protocol.Receipt) {
	if e.Type != protocol.ReceiptRead && e.Type != protocol.ReceiptViewed {
		return
	}
	chatID := e.Info.ChatID
	if chatID == "" {
		chatID = e.Info.SenderID
	}
	for _, id := range e.MessageIDs {
		acc.Notifier.MessageStatus(chatID, id, true)
	}
}

func (a *Adapter) handleReadSelf(acc *account.Account, e *protocol.ReadSelf) {
	for _, m := range e.Messages {
		chatID := m.ChatID
		if chatID == "" {
			chatID = m.SenderID
		}
		acc.Notifier.MessageStatus(chatID, m.MessageID, true)
	}
}

func (a *Adapter) handleContactList(acc *account.Account, e *protocol.ContactList) {
	self := a.accounts.SelfID(acc.ID)
	for _, c := range e.Contacts {
		if c.ID == "" || c.ID == self {
			continue
		}
		name := c.ContactName
		if name == "" {
			name = c.ProfileName
		}
		if name == "" {
			name = c.E164
		}
		acc.SetContactName(c.ID, name)
		acc.Notifier.NewContact(notify.Contact{ID: c.ID, Name: name, Phone: c.E164})
	}
	if self != "" {
		acc.Notifier.NewContact(notify.Contact{ID: self, Name: SelfName, IsSelf: true})
	}
}

func (a *Adapter) handleDeleteForMe(acc *account.Account, e *protocol.DeleteForMe) {
	for _, md := range e.MessageDeletes {
		chatID := md.Conversation.ChatID()
		if chatID == "" {
			a.logger.Warn("message delete without conversation", zap.Int("conn", acc.ID))
			continue
		}
		for _, m := range md.Messages {
			acc.Notifier.MessageDeleted(chatID, m.MessageID)
		}
	}
	for _, cd := range e.ConversationDeletes {
		chatID := cd.Conversation.ChatID()
		if chatID == "" {
			a.logger.Warn("conversation delete without conversation", zap.Int("conn", acc.ID))
			continue
		}
		a.purge(acc, chatID)
		acc.Notifier.ChatDeleted(chatID)
	}
}

func (a *Adapter) purge(acc *account.Account, chatID string) {
	acc.Tracker.Forget(chatID)
	if a.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()
	if err := a.cache.PurgeChat(ctx, chatID); err != nil {
		a.logger.Warn("purge cached chat failed", zap.Int("conn", acc.ID), zap.String("chat", chatID), zap.Error(err))
	}
}

func (a *Adapter) handleLoggedOut(acc *account.Account, e *protocol.LoggedOut) {
	a.logger.Warn("logged out by server", zap.Int("conn", acc.ID), zap.String("reason", e.Reason))
	acc.Notifier.ClearFlag(notify.FlagOnline)
	acc.Notifier.SetFlag(notify.FlagOffline)
	acc.Notifier.Reinit()
}

func (a *Adapter) handlePinned(acc *account.Account, e *protocol.PinnedChanged) {
	pinned, unpinned := acc.Tracker.ApplyPinnedSnapshot(e.ChatIDs)
	for _, p := range pinned {
		acc.Notifier.PinChanged(p.ChatID, true, p.Rank)
	}
	for _, id := range unpinned {
		acc.Notifier.PinChanged(id, false, 0)
	}
}

func (a *Adapter) handleMute(acc *account.Account, e *protocol.MuteChanged) {
	if acc.Tracker.ApplyMuteChange(e.ChatID, e.Muted) {
		acc.Notifier.MuteChanged(e.ChatID, e.Muted)
	}
}
