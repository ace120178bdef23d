// Package account holds the runtime state of every connected account keyed
// by connection id.
package account

import (
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/chatbridge/internal/bus"
	"github.com/matheus3301/chatbridge/internal/chatstate"
	"github.com/matheus3301/chatbridge/internal/notify"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"github.com/matheus3301/chatbridge/internal/status"
)

// ErrUnknownAccount is returned for a connection id that is not registered.
var ErrUnknownAccount = errors.New("unknown account")

// Account is the runtime state of one protocol identity. Immutable fields are
// set at creation; the device, client and status channel are guarded by the
// Manager.
type Account struct {
	ID            int
	Path          string
	AttachmentDir string

	Notifier *notify.Notifier
	Tracker  *chatstate.Tracker
	Machine  *status.Machine

	device   protocol.Device
	client   protocol.Client
	statusCh <-chan protocol.StatusEvent

	namesMu sync.RWMutex
	names   map[string]string
}

// SetContactName records a display name used to resolve mentions.
func (a *Account) SetContactName(id, name string) {
	if id == "" || name == "" {
		return
	}
	a.namesMu.Lock()
	defer a.namesMu.Unlock()
	a.names[id] = name
}

// ContactName returns the display name of id, or "".
func (a *Account) ContactName(id string) string {
	a.namesMu.RLock()
	defer a.namesMu.RUnlock()
	return a.names[id]
}

// Options configures a new account.
type Options struct {
	Path           string
	AttachmentDir  string
	RecentCapacity int
}

// Manager is the account registry. Its lock is held for single map accesses
// only, never across network calls.
type Manager struct {
	mu       sync.Mutex
	next     int
	accounts map[int]*Account
	bus      *bus.Bus
}

// NewManager creates an empty registry publishing through b.
func NewManager(b *bus.Bus) *Manager {
	return &Manager{
		next:     1,
		accounts: make(map[int]*Account),
		bus:      b,
	}
}

// Add registers a new account and returns it.
func (m *Manager) Add(opts Options) *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	var pub notify.Publisher
	if m.bus != nil {
		pub = m.bus
	}
	acc := &Account{
		ID:            id,
		Path:          opts.Path,
		AttachmentDir: opts.AttachmentDir,
		Notifier:      notify.NewNotifier(pub, id),
		Tracker:       chatstate.NewTracker(opts.RecentCapacity),
		Machine:       status.NewMachine(m.bus, id),
		names:         make(map[string]string),
	}
	m.accounts[id] = acc
	return acc
}

// Remove drops an account from the registry.
func (m *Manager) Remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
}

// Get returns the account for id.
func (m *Manager) Get(id int) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAccount, id)
	}
	return acc, nil
}

// IDs returns the registered connection ids.
func (m *Manager) IDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	return ids
}

// SetState transitions the account's lifecycle state.
func (m *Manager) SetState(id int, to status.State) error {
	acc, err := m.Get(id)
	if err != nil {
		return err
	}
	return acc.Machine.Transition(to)
}

// State returns the account's lifecycle state.
func (m *Manager) State(id int) (status.State, error) {
	acc, err := m.Get(id)
	if err != nil {
		return "", err
	}
	return acc.Machine.Current(), nil
}

// SetSession stores the device and client of an account. Either may be nil.
func (m *Manager) SetSession(id int, dev protocol.Device, client protocol.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAccount, id)
	}
	acc.device = dev
	acc.client = client
	return nil
}

// Session returns the device and client of an account.
func (m *Manager) Session(id int) (protocol.Device, protocol.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownAccount, id)
	}
	return acc.device, acc.client, nil
}

// Client returns the live client of an account or protocol.ErrNotConnected.
func (m *Manager) Client(id int) (protocol.Client, error) {
	_, client, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, protocol.ErrNotConnected
	}
	return client, nil
}

// SelfID returns the local account id, or "" before linking.
func (m *Manager) SelfID(id int) string {
	dev, _, err := m.Session(id)
	if err != nil || dev == nil {
		return ""
	}
	return dev.SelfID()
}

// SetStatusChan stores the receive loop status channel of an account.
func (m *Manager) SetStatusChan(id int, ch <-chan protocol.StatusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAccount, id)
	}
	acc.statusCh = ch
	return nil
}

// StatusChan returns the receive loop status channel of an account.
func (m *Manager) StatusChan(id int) (<-chan protocol.StatusEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAccount, id)
	}
	return acc.statusCh, nil
}
