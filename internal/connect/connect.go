// Package connect owns the connection lifecycle of every account: device
// linking, bounded connection establishment, the background status monitor
// and forced re-provisioning after a server logout.
package connect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/matheus3301/chatbridge/internal/account"
	"github.com/matheus3301/chatbridge/internal/adapter"
	"github.com/matheus3301/chatbridge/internal/notify"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"github.com/matheus3301/chatbridge/internal/status"
	"go.uber.org/zap"
)

var (
	// ErrLoginTimeout is returned when the client does not report connected
	// within the connect timeout.
	ErrLoginTimeout = errors.New("timed out waiting for connection")
	// ErrLoggedOut is returned when the server rejects the stored session.
	// Local credentials have been cleared and the next login provisions.
	ErrLoggedOut = errors.New("logged out by server")
	// ErrProvisioningAborted is returned when linking ends without a device.
	ErrProvisioningAborted = errors.New("device linking aborted")
	// ErrLoginInProgress is returned when a login is already running.
	ErrLoginInProgress = errors.New("login already in progress")
)

const (
	DefaultConnectTimeout   = 30 * time.Second
	DefaultTransferTimeout  = 3 * time.Minute
	DefaultProvisionTimeout = 5 * time.Minute

	credentialsTimeout = 10 * time.Second
)

// Presenter shows a device-linking prompt to the user.
type Presenter interface {
	ShowURL(url string) error
	ShowCode(code string) error
	// Cleanup removes anything ShowURL left behind.
	Cleanup()
}

// Checkpoint records that the one-time history transfer ran.
type Checkpoint interface {
	MarkHistoryTransferred(ctx context.Context) error
}

// BackendFactory opens the protocol backend for an account directory.
type BackendFactory func(ctx context.Context, path string) (protocol.Backend, error)

// Options configures timeouts and account defaults.
type Options struct {
	ConnectTimeout   time.Duration
	TransferTimeout  time.Duration
	ProvisionTimeout time.Duration
	DeviceName       string
	// AttachmentDir overrides the default <path>/tmp.
	AttachmentDir  string
	RecentCapacity int
}

// LoginOptions configures a single login attempt.
type LoginOptions struct {
	// Phone requests a pairing code instead of a QR code when linking.
	Phone string
}

type runtime struct {
	backend protocol.Backend
	client  protocol.Client
	done    chan struct{} // closed when the monitor exits
	busy    bool
}

// Connector drives accounts from None to Connected and back.
type Connector struct {
	accounts   *account.Manager
	adapter    *adapter.Adapter
	open       BackendFactory
	presenter  Presenter
	checkpoint Checkpoint
	opts       Options
	logger     *zap.Logger

	mu       sync.Mutex
	runtimes map[int]*runtime
	wg       sync.WaitGroup
}

// New creates a connector. presenter and checkpoint may be nil.
func New(accounts *account.Manager, a *adapter.Adapter, open BackendFactory, presenter Presenter, checkpoint Checkpoint, opts Options, logger *zap.Logger) *Connector {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = DefaultTransferTimeout
	}
	if opts.ProvisionTimeout <= 0 {
		opts.ProvisionTimeout = DefaultProvisionTimeout
	}
	return &Connector{
		accounts:   accounts,
		adapter:    a,
		open:       open,
		presenter:  presenter,
		checkpoint: checkpoint,
		opts:       opts,
		logger:     logger,
		runtimes:   make(map[int]*runtime),
	}
}

// Init registers an account stored at path and loads its device session.
func (c *Connector) Init(ctx context.Context, path string) (int, error) {
	backend, err := c.open(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("open backend: %w", err)
	}
	dev, err := backend.LoadDevice(ctx)
	if err != nil {
		closeBackend(backend)
		return 0, fmt.Errorf("load device: %w", err)
	}

	dir := c.opts.AttachmentDir
	if dir == "" {
		dir = filepath.Join(path, "tmp")
	}
	acc := c.accounts.Add(account.Options{
		Path:           path,
		AttachmentDir:  dir,
		RecentCapacity: c.opts.RecentCapacity,
	})
	if err := c.accounts.SetSession(acc.ID, dev, nil); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.runtimes[acc.ID] = &runtime{backend: backend}
	c.mu.Unlock()

	c.logger.Info("account initialized",
		zap.Int("conn", acc.ID),
		zap.String("path", path),
		zap.Bool("linked", dev != nil && dev.Valid()))
	return acc.ID, nil
}

// Login connects an account, linking a new device first when no valid
// session exists. On failure the account is left Disconnected.
func (c *Connector) Login(ctx context.Context, connID int, opts LoginOptions) error {
	acc, err := c.accounts.Get(connID)
	if err != nil {
		return err
	}
	rt, err := c.claim(connID)
	if err != nil {
		return err
	}
	defer c.release(connID)

	if acc.Machine.Current() == status.Connected {
		if c.monitoring(rt) {
			return nil
		}
		c.stop(connID, rt)
	}

	if err := acc.Machine.Transition(status.Connecting); err != nil {
		return err
	}
	acc.Notifier.SetFlag(notify.FlagConnecting)
	defer acc.Notifier.ClearFlag(notify.FlagConnecting)

	if err := c.login(ctx, acc, rt, opts); err != nil {
		c.logger.Warn("login failed", zap.Int("conn", connID), zap.Error(err))
		_ = acc.Machine.Transition(status.Disconnected)
		acc.Notifier.SetFlag(notify.FlagOffline)
		acc.Notifier.LoginFailed(err.Error())
		return err
	}
	return nil
}

func (c *Connector) login(ctx context.Context, acc *account.Account, rt *runtime, opts LoginOptions) error {
	dev, _, err := c.accounts.Session(acc.ID)
	if err != nil {
		return err
	}
	fresh := false
	if dev == nil || !dev.Valid() {
		dev, err = c.provision(ctx, acc, rt.backend, opts)
		if err != nil {
			return err
		}
		fresh = true
	}

	client, err := rt.backend.NewClient(dev)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	if err := c.accounts.SetSession(acc.ID, dev, client); err != nil {
		return err
	}

	events, statuses, err := client.StartReceiving(ctx)
	if err != nil {
		return fmt.Errorf("start receiving: %w", err)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.adapter.Run(acc, events)
	}()

	if err := c.await(ctx, acc, client, statuses); err != nil {
		client.StopReceiving()
		_ = c.accounts.SetSession(acc.ID, dev, nil)
		return err
	}

	_ = c.accounts.SetStatusChan(acc.ID, statuses)
	if err := acc.Machine.Transition(status.Connected); err != nil {
		return err
	}
	acc.Notifier.ClearFlag(notify.FlagOffline)
	acc.Notifier.SetFlag(notify.FlagOnline)

	done := make(chan struct{})
	c.mu.Lock()
	rt.client = client
	rt.done = done
	c.mu.Unlock()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		c.monitor(acc, client, statuses)
	}()

	c.logger.Info("connected", zap.Int("conn", acc.ID), zap.String("self", dev.SelfID()), zap.Bool("fresh", fresh))

	if fresh {
		c.transfer(acc, client)
	}
	if err := client.RequestContacts(ctx); err != nil {
		c.logger.Warn("request contacts failed", zap.Int("conn", acc.ID), zap.Error(err))
	}
	return nil
}

// await blocks until the client reports connected, fails, or times out.
func (c *Connector) await(ctx context.Context, acc *account.Account, client protocol.Client, statuses <-chan protocol.StatusEvent) error {
	timer := time.NewTimer(c.opts.ConnectTimeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-statuses:
			if !ok {
				return errors.New("status channel closed before connect")
			}
			switch ev.Status {
			case protocol.StatusConnected:
				return nil
			case protocol.StatusLoggedOut:
				c.clearCredentials(acc, client)
				return ErrLoggedOut
			case protocol.StatusError, protocol.StatusFatal:
				if ev.Err != nil {
					return fmt.Errorf("connect: %w", ev.Err)
				}
				return fmt.Errorf("connect: %s", ev.Status)
			}
		case <-timer.C:
			return ErrLoginTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// provision links a new device and returns it.
func (c *Connector) provision(ctx context.Context, acc *account.Account, backend protocol.Backend, opts LoginOptions) (protocol.Device, error) {
	acc.Notifier.UIControl(true)
	defer acc.Notifier.UIControl(false)
	if c.presenter != nil {
		defer c.presenter.Cleanup()
	}

	pctx, cancel := context.WithTimeout(ctx, c.opts.ProvisionTimeout)
	defer cancel()

	ch, err := backend.Provision(pctx, protocol.ProvisionOptions{
		PhoneNumber: opts.Phone,
		DeviceName:  c.opts.DeviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("start provisioning: %w", err)
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil, ErrProvisioningAborted
			}
			switch ev.Type {
			case protocol.ProvisioningURL:
				acc.Notifier.ProvisioningPrompt(notify.Provisioning{URL: ev.URL})
				if c.presenter != nil {
					if err := c.presenter.ShowURL(ev.URL); err != nil {
						c.logger.Warn("show qr code failed", zap.Int("conn", acc.ID), zap.Error(err))
					}
				}
			case protocol.ProvisioningPairingCode:
				acc.Notifier.ProvisioningPrompt(notify.Provisioning{Code: ev.Code})
				if c.presenter != nil {
					if err := c.presenter.ShowCode(ev.Code); err != nil {
						c.logger.Warn("show pairing code failed", zap.Int("conn", acc.ID), zap.Error(err))
					}
				}
			case protocol.ProvisioningData:
				if ev.Device == nil {
					return nil, ErrProvisioningAborted
				}
				if err := c.accounts.SetSession(acc.ID, ev.Device, nil); err != nil {
					return nil, err
				}
				c.logger.Info("device linked", zap.Int("conn", acc.ID), zap.String("self", ev.Device.SelfID()))
				return ev.Device, nil
			case protocol.ProvisioningError:
				return nil, fmt.Errorf("provisioning: %w", ev.Err)
			}
		case <-pctx.Done():
			return nil, fmt.Errorf("provisioning: %w", pctx.Err())
		}
	}
}

// monitor follows the status channel for the lifetime of the connection.
// It never changes the lifecycle state.
func (c *Connector) monitor(acc *account.Account, client protocol.Client, statuses <-chan protocol.StatusEvent) {
	for ev := range statuses {
		switch ev.Status {
		case protocol.StatusDisconnected:
			c.logger.Warn("connection lost", zap.Int("conn", acc.ID))
			acc.Notifier.ClearFlag(notify.FlagOnline)
			acc.Notifier.SetFlag(notify.FlagOffline)
		case protocol.StatusConnected:
			c.logger.Info("connection restored", zap.Int("conn", acc.ID))
			acc.Notifier.ClearFlag(notify.FlagOffline)
			acc.Notifier.SetFlag(notify.FlagOnline)
		case protocol.StatusLoggedOut:
			c.logger.Warn("session logged out", zap.Int("conn", acc.ID))
			acc.Notifier.ClearFlag(notify.FlagOnline)
			acc.Notifier.SetFlag(notify.FlagOffline)
			c.clearCredentials(acc, client)
			return
		case protocol.StatusFatal:
			c.logger.Error("fatal connection error", zap.Int("conn", acc.ID), zap.Error(ev.Err))
			acc.Notifier.ClearFlag(notify.FlagOnline)
			acc.Notifier.SetFlag(notify.FlagOffline)
			return
		case protocol.StatusError:
			c.logger.Warn("connection error", zap.Int("conn", acc.ID), zap.Error(ev.Err))
		}
	}
}

// transfer fetches the history archive of a freshly linked device. Failures
// are logged only.
func (c *Connector) transfer(acc *account.Account, client protocol.Client) {
	acc.Notifier.SetFlag(notify.FlagSyncing)
	defer acc.Notifier.ClearFlag(notify.FlagSyncing)

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.TransferTimeout)
	defer cancel()

	ok, err := client.TransferArchive(ctx)
	switch {
	case err != nil:
		c.logger.Warn("history transfer failed", zap.Int("conn", acc.ID), zap.Error(err))
		return
	case !ok:
		c.logger.Info("no history transfer offered", zap.Int("conn", acc.ID))
		return
	}
	c.logger.Info("history transfer complete", zap.Int("conn", acc.ID))
	if c.checkpoint != nil {
		if err := c.checkpoint.MarkHistoryTransferred(ctx); err != nil {
			c.logger.Warn("record history checkpoint failed", zap.Int("conn", acc.ID), zap.Error(err))
		}
	}
}

func (c *Connector) clearCredentials(acc *account.Account, client protocol.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), credentialsTimeout)
	defer cancel()
	if err := client.ClearCredentials(ctx); err != nil {
		c.logger.Warn("clear credentials failed", zap.Int("conn", acc.ID), zap.Error(err))
	}
}

// Logout stops the receive loop. Credentials are kept, so the next login
// reconnects without linking.
func (c *Connector) Logout(ctx context.Context, connID int) error {
	acc, err := c.accounts.Get(connID)
	if err != nil {
		return err
	}
	rt, err := c.claim(connID)
	if err != nil {
		return err
	}
	defer c.release(connID)

	c.stop(connID, rt)
	if err := acc.Machine.Transition(status.Disconnected); err != nil {
		return err
	}
	acc.Notifier.ClearFlag(notify.FlagOnline)
	acc.Notifier.SetFlag(notify.FlagOffline)
	c.logger.Info("logged out", zap.Int("conn", connID))
	return nil
}

// Reprovision discards the stored session and logs in again, linking a new
// device. It is the reaction to a server-side logout.
func (c *Connector) Reprovision(ctx context.Context, connID int, opts LoginOptions) error {
	acc, err := c.accounts.Get(connID)
	if err != nil {
		return err
	}
	rt, err := c.claim(connID)
	if err != nil {
		return err
	}
	c.stop(connID, rt)
	if acc.Machine.Current() != status.None {
		_ = acc.Machine.Transition(status.Disconnected)
	}
	dev, err := rt.backend.LoadDevice(ctx)
	if err != nil {
		c.release(connID)
		return fmt.Errorf("reload device: %w", err)
	}
	_ = c.accounts.SetSession(connID, dev, nil)
	c.release(connID)

	c.logger.Info("re-provisioning", zap.Int("conn", connID), zap.Bool("linked", dev != nil && dev.Valid()))
	return c.Login(ctx, connID, opts)
}

// Cleanup stops an account and drops its runtime structures.
func (c *Connector) Cleanup(connID int) {
	c.mu.Lock()
	rt, ok := c.runtimes[connID]
	delete(c.runtimes, connID)
	c.mu.Unlock()
	if !ok {
		return
	}
	c.stop(connID, rt)
	closeBackend(rt.backend)
	c.accounts.Remove(connID)
	c.logger.Info("account cleaned up", zap.Int("conn", connID))
}

// Shutdown cleans up every account and waits for background tasks.
func (c *Connector) Shutdown() {
	for _, id := range c.accounts.IDs() {
		c.Cleanup(id)
	}
	c.wg.Wait()
}

// stop ends the receive loop of an account, if any.
func (c *Connector) stop(connID int, rt *runtime) {
	c.mu.Lock()
	client := rt.client
	rt.client = nil
	c.mu.Unlock()
	if client == nil {
		return
	}
	client.StopReceiving()
	dev, _, _ := c.accounts.Session(connID)
	_ = c.accounts.SetSession(connID, dev, nil)
	_ = c.accounts.SetStatusChan(connID, nil)
}

func (c *Connector) claim(connID int) (*runtime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.runtimes[connID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", account.ErrUnknownAccount, connID)
	}
	if rt.busy {
		return nil, ErrLoginInProgress
	}
	rt.busy = true
	return rt, nil
}

func (c *Connector) release(connID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt, ok := c.runtimes[connID]; ok {
		rt.busy = false
	}
}

func (c *Connector) monitoring(rt *runtime) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt.client == nil || rt.done == nil {
		return false
	}
	select {
	case <-rt.done:
		return false
	default:
		return true
	}
}

func closeBackend(b protocol.Backend) {
	if cl, ok := b.(io.Closer); ok {
		_ = cl.Close()
	}
}
