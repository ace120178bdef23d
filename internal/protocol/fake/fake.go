// Package fake provides a scripted protocol backend for tests.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatbridge/internal/protocol"
)

// Device is an in-memory device.
type Device struct {
	ID     string
	Phone  string
	Linked bool
}

func (d *Device) SelfID() string { return d.ID }
func (d *Device) Number() string { return d.Phone }
func (d *Device) Valid() bool    { return d != nil && d.Linked }

// Backend hands out a preconfigured device, provisioning script and client.
type Backend struct {
	mu sync.Mutex

	Device       *Device
	Provisioning []protocol.ProvisioningEvent
	ProvisionErr error
	Client       *Client

	ProvisionCalls int
	LastOptions    protocol.ProvisionOptions
}

func (b *Backend) LoadDevice(context.Context) (protocol.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Device == nil {
		return nil, nil
	}
	return b.Device, nil
}

func (b *Backend) Provision(_ context.Context, opts protocol.ProvisionOptions) (<-chan protocol.ProvisioningEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ProvisionCalls++
	b.LastOptions = opts
	if b.ProvisionErr != nil {
		return nil, b.ProvisionErr
	}
	ch := make(chan protocol.ProvisioningEvent, len(b.Provisioning))
	for _, evt := range b.Provisioning {
		ch <- evt
	}
	close(ch)
	return ch, nil
}

func (b *Backend) NewClient(dev protocol.Device) (protocol.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Client == nil {
		b.Client = NewClient()
	}
	b.Client.mu.Lock()
	b.Client.device = dev
	b.Client.mu.Unlock()
	return b.Client, nil
}

// Sent records one Send call.
type Sent struct {
	ChatID string
	Msg    protocol.Outgoing
}

// Client is a scripted protocol client. Statuses queued in Script are
// delivered as soon as StartReceiving is called.
type Client struct {
	mu sync.Mutex

	Script      []protocol.StatusEvent
	SendErr     error
	DownloadErr error
	Data        []byte
	Transfer    bool
	TransferErr error

	device    protocol.Device
	events    chan protocol.Event
	status    chan protocol.StatusEvent
	running   bool
	sent      []Sent
	downloads int
	cleared   int
	stops     int
	transfers int
	contacts  int
	nextID    int
}

// NewClient creates an idle client.
func NewClient() *Client {
	return &Client{}
}

func (c *Client) StartReceiving(context.Context) (<-chan protocol.Event, <-chan protocol.StatusEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = make(chan protocol.Event, 64)
	c.status = make(chan protocol.StatusEvent, 64)
	c.running = true
	for _, s := range c.Script {
		c.status <- s
	}
	return c.events, c.status, nil
}

func (c *Client) StopReceiving() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	if !c.running {
		return
	}
	c.running = false
	close(c.events)
	close(c.status)
}

// Emit delivers an event on the running event channel.
func (c *Client) Emit(evt protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.events <- evt
	}
}

// EmitStatus delivers a status on the running status channel.
func (c *Client) EmitStatus(s protocol.StatusEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.status <- s
	}
}

func (c *Client) ClearCredentials(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared++
	if d, ok := c.device.(*Device); ok && d != nil {
		d.Linked = false
	}
	return nil
}

func (c *Client) Send(_ context.Context, chatID string, msg protocol.Outgoing) (protocol.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return protocol.SendResult{}, c.SendErr
	}
	c.sent = append(c.sent, Sent{ChatID: chatID, Msg: msg})
	c.nextID++
	return protocol.SendResult{ID: fmt.Sprintf("sent-%d", c.nextID), Timestamp: time.UnixMilli(int64(1700000000000 + c.nextID))}, nil
}

func (c *Client) Upload(_ context.Context, data []byte, contentType, fileName string) (*protocol.AttachmentPointer, error) {
	return &protocol.AttachmentPointer{
		CdnKey:      "upload/" + fileName,
		Key:         []byte("key"),
		Digest:      []byte("digest"),
		Size:        uint64(len(data)),
		ContentType: contentType,
		FileName:    fileName,
	}, nil
}

func (c *Client) Download(context.Context, *protocol.AttachmentPointer) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloads++
	if c.DownloadErr != nil {
		return nil, c.DownloadErr
	}
	return c.Data, nil
}

func (c *Client) TransferArchive(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transfers++
	return c.Transfer, c.TransferErr
}

func (c *Client) RequestContacts(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contacts++
	return nil
}

// Sent returns a copy of the recorded sends.
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func (c *Client) Downloads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downloads
}

func (c *Client) Cleared() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared
}

func (c *Client) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

func (c *Client) Transfers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transfers
}

func (c *Client) ContactRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contacts
}

// Running reports whether the receive loop is started.
func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
