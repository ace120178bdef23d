package wa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatbridge/internal/protocol"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

const (
	eventBuffer  = 256
	statusBuffer = 16
)

var (
	_ protocol.Backend = (*Backend)(nil)
	_ protocol.Client  = (*Client)(nil)
	_ protocol.Device  = (*Device)(nil)
)

// Client drives one linked device.
type Client struct {
	cli    *whatsmeow.Client
	self   string
	logger *zap.Logger

	mu        sync.Mutex
	running   bool
	handlerID uint32
	events    chan protocol.Event
	status    chan protocol.StatusEvent
	stop      chan struct{}
	inflight  sync.WaitGroup

	stateMu sync.Mutex
	pinned  []string
	calls   map[string]bool

	historyOnce sync.Once
	history     chan struct{}
}

func newClient(cli *whatsmeow.Client, self string, logger *zap.Logger) *Client {
	return &Client{
		cli:     cli,
		self:    self,
		logger:  logger,
		calls:   make(map[string]bool),
		history: make(chan struct{}),
	}
}

// StartReceiving registers the event handler and connects.
func (c *Client) StartReceiving(ctx context.Context) (<-chan protocol.Event, <-chan protocol.StatusEvent, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, nil, errors.New("already receiving")
	}
	c.events = make(chan protocol.Event, eventBuffer)
	c.status = make(chan protocol.StatusEvent, statusBuffer)
	c.stop = make(chan struct{})
	c.running = true
	c.handlerID = c.cli.AddEventHandler(c.handle)
	events, status := c.events, c.status
	c.mu.Unlock()

	c.emitStatus(protocol.StatusEvent{Status: protocol.StatusConnecting})
	c.logger.Info("connecting to WhatsApp")
	if err := c.cli.Connect(); err != nil {
		c.StopReceiving()
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return events, status, nil
}

// StopReceiving disconnects and closes both channels.
func (c *Client) StopReceiving() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cli.RemoveEventHandler(c.handlerID)
	close(c.stop)
	c.mu.Unlock()

	c.logger.Info("disconnecting from WhatsApp")
	c.cli.Disconnect()
	c.inflight.Wait()
	close(c.events)
	close(c.status)
}

// ClearCredentials logs the device out, or drops it locally when offline.
func (c *Client) ClearCredentials(ctx context.Context) error {
	if c.cli.Store.ID == nil {
		return nil
	}
	if c.cli.IsConnected() && c.cli.IsLoggedIn() {
		err := c.cli.Logout(ctx)
		if err == nil {
			return nil
		}
		c.logger.Warn("logout failed, deleting device locally", zap.Error(err))
	}
	if err := c.cli.Store.Delete(ctx); err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	return nil
}

// TransferArchive waits for the first history sync pushed to a freshly
// linked device.
func (c *Client) TransferArchive(ctx context.Context) (bool, error) {
	select {
	case <-c.history:
		return true, nil
	case <-ctx.Done():
		return false, fmt.Errorf("wait for history sync: %w", ctx.Err())
	}
}

// RequestContacts emits the device store's contacts as a ContactList.
func (c *Client) RequestContacts(ctx context.Context) error {
	all, err := c.cli.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return fmt.Errorf("get contacts: %w", err)
	}
	list := &protocol.ContactList{Contacts: make([]protocol.Contact, 0, len(all))}
	for jid, info := range all {
		jid = c.resolveLID(ctx, jid).ToNonAD()
		contact := protocol.Contact{
			ID:          jid.String(),
			ContactName: info.FullName,
			ProfileName: info.PushName,
		}
		if contact.ContactName == "" {
			contact.ContactName = info.FirstName
		}
		if contact.ProfileName == "" {
			contact.ProfileName = info.BusinessName
		}
		if jid.Server == types.DefaultUserServer {
			contact.E164 = "+" + jid.User
		}
		list.Contacts = append(list.Contacts, contact)
	}
	c.emit(list)
	return nil
}

func (c *Client) handle(raw any) {
	switch e := raw.(type) {
	case *events.Connected:
		c.emitStatus(protocol.StatusEvent{Status: protocol.StatusConnected})
	case *events.Disconnected:
		c.emitStatus(protocol.StatusEvent{Status: protocol.StatusDisconnected})
	case *events.LoggedOut:
		c.logger.Warn("logged out by server", zap.String("reason", e.Reason.String()))
		c.emit(&protocol.LoggedOut{Reason: e.Reason.String()})
		c.emitStatus(protocol.StatusEvent{Status: protocol.StatusLoggedOut, Err: fmt.Errorf("logged out: %s", e.Reason)})
	case *events.StreamReplaced:
		c.emitStatus(protocol.StatusEvent{Status: protocol.StatusFatal, Err: errors.New("stream replaced by another client")})
	case *events.TemporaryBan:
		c.emitStatus(protocol.StatusEvent{Status: protocol.StatusFatal, Err: fmt.Errorf("temporary ban: %s", e)})
	case *events.ClientOutdated:
		c.emitStatus(protocol.StatusEvent{Status: protocol.StatusFatal, Err: errors.New("client outdated")})
	case *events.ConnectFailure:
		c.emitStatus(protocol.StatusEvent{Status: protocol.StatusFatal, Err: fmt.Errorf("connect failure: %s %s", e.Reason, e.Message)})
	case *events.StreamError:
		c.emitStatus(protocol.StatusEvent{Status: protocol.StatusError, Err: fmt.Errorf("stream error: %s", e.Code)})
	case *events.HistorySync:
		c.logger.Info("history sync received",
			zap.String("type", e.Data.GetSyncType().String()),
			zap.Int("conversations", len(e.Data.GetConversations())),
		)
		for _, evt := range c.translateHistory(e.Data) {
			c.emit(evt)
		}
		c.historyOnce.Do(func() { close(c.history) })
	default:
		if evt := c.translate(raw); evt != nil {
			c.emit(evt)
		}
	}
}

func (c *Client) emit(evt protocol.Event) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	ch, stop := c.events, c.stop
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	select {
	case ch <- evt:
	case <-stop:
	}
}

func (c *Client) emitStatus(st protocol.StatusEvent) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	ch, stop := c.status, c.stop
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	select {
	case ch <- st:
	case <-stop:
	}
}

// resolveLID maps a hidden-user JID to its phone number JID when the
// mapping is known.
func (c *Client) resolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if c.cli == nil || c.cli.Store == nil || c.cli.Store.LIDs == nil {
		return jid
	}
	pn, err := c.cli.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}

// userID renders jid as a chat or user id.
func (c *Client) userID(jid types.JID) string {
	if jid.IsEmpty() {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.resolveLID(ctx, jid).ToNonAD().String()
}
