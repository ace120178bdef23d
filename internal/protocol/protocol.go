// Package protocol describes the messaging protocol client the bridge drives:
// device provisioning, the receive loop with its status channel, the inbound
// event union and the outbound message union.
package protocol

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnsupported is returned for operations a backend cannot perform.
	ErrUnsupported = errors.New("operation not supported by protocol")
	// ErrNotConnected is returned when the receive loop is not running.
	ErrNotConnected = errors.New("client not connected")
)

// Device is a linked-device session held in local storage.
type Device interface {
	// SelfID is the account id of the local user, empty before linking.
	SelfID() string
	// Number is the phone number of the local account, if known.
	Number() string
	// Valid reports whether the device holds usable credentials.
	Valid() bool
}

// ProvisionOptions configures device linking.
type ProvisionOptions struct {
	// PhoneNumber requests a numeric pairing code instead of a QR code.
	PhoneNumber string
	DeviceName  string
}

// Backend creates devices and clients for one account's local storage.
type Backend interface {
	LoadDevice(ctx context.Context) (Device, error)
	Provision(ctx context.Context, opts ProvisionOptions) (<-chan ProvisioningEvent, error)
	NewClient(dev Device) (Client, error)
}

// Client is a live protocol client bound to a device.
type Client interface {
	// StartReceiving starts the receive loop. Both channels are closed by
	// StopReceiving.
	StartReceiving(ctx context.Context) (<-chan Event, <-chan StatusEvent, error)
	StopReceiving()
	// ClearCredentials removes the device session from local storage.
	ClearCredentials(ctx context.Context) error
	Send(ctx context.Context, chatID string, msg Outgoing) (SendResult, error)
	Upload(ctx context.Context, data []byte, contentType, fileName string) (*AttachmentPointer, error)
	Download(ctx context.Context, ptr *AttachmentPointer) ([]byte, error)
	// TransferArchive fetches the history transfer archive offered to a
	// freshly linked device. It reports false when none is advertised.
	TransferArchive(ctx context.Context) (bool, error)
	// RequestContacts asks for a ContactList event to be delivered.
	RequestContacts(ctx context.Context) error
}

// SendResult identifies a sent message.
type SendResult struct {
	ID        string
	Timestamp time.Time
}

// ConnectionStatus is a receive loop status.
type ConnectionStatus int

const (
	StatusConnecting ConnectionStatus = iota
	StatusConnected
	StatusDisconnected
	StatusLoggedOut
	StatusError
	StatusFatal
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusLoggedOut:
		return "logged_out"
	case StatusError:
		return "error"
	case StatusFatal:
		return "fatal"
	}
	return "unknown"
}

// StatusEvent is delivered on the status channel.
type StatusEvent struct {
	Status ConnectionStatus
	Err    error
}

// ProvisioningEventType enumerates device-linking events.
type ProvisioningEventType int

const (
	ProvisioningURL ProvisioningEventType = iota
	ProvisioningPairingCode
	ProvisioningData
	ProvisioningError
)

// ProvisioningEvent is yielded by Backend.Provision. A Data event carries the
// newly linked device.
type ProvisioningEvent struct {
	Type   ProvisioningEventType
	URL    string
	Code   string
	Device Device
	Err    error
}

// AttachmentPointer locates an encrypted attachment on the server.
type AttachmentPointer struct {
	URL           string
	CdnID         uint64
	CdnKey        string
	CdnNumber     uint32
	MediaType     string
	Key           []byte
	Digest        []byte
	PlaintextHash []byte
	Size          uint64
	ContentType   string
	FileName      string
}

// HasLocator reports whether the pointer names a remote object.
func (p *AttachmentPointer) HasLocator() bool {
	return p != nil && (p.CdnID != 0 || p.CdnKey != "" || p.URL != "")
}
