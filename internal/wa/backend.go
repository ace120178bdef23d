// Package wa implements the protocol client on top of whatsmeow: device
// storage and linking, the receive loop, event translation and outgoing
// message construction.
package wa

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/chatbridge/internal/protocol"
	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// Device wraps a whatsmeow device store.
type Device struct {
	store *wastore.Device
}

func (d *Device) SelfID() string {
	if !d.Valid() {
		return ""
	}
	return d.store.ID.ToNonAD().String()
}

func (d *Device) Number() string {
	if !d.Valid() {
		return ""
	}
	return d.store.ID.User
}

func (d *Device) Valid() bool {
	return d != nil && d.store != nil && d.store.ID != nil
}

// Backend owns the device database of one account.
type Backend struct {
	db        *sql.DB
	container *sqlstore.Container
	logger    *zap.Logger
	waLogger  waLog.Logger
}

// Open opens or creates the device database at dbPath. deviceName is shown
// in the phone's linked devices list.
func Open(ctx context.Context, dbPath, deviceName string, logger *zap.Logger) (*Backend, error) {
	if deviceName != "" {
		wastore.SetOSInfo(deviceName, [3]uint32{0, 1, 0})
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	waLogger := NewLogger(logger.Named("whatsmeow"))
	container := sqlstore.NewWithDB(db, "sqlite3", waLogger.Sub("store"))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upgrade device store: %w", err)
	}
	return &Backend{
		db:        db,
		container: container,
		logger:    logger,
		waLogger:  waLogger,
	}, nil
}

// Close closes the device database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// LoadDevice returns the stored device, or an unlinked one.
func (b *Backend) LoadDevice(ctx context.Context) (protocol.Device, error) {
	dev, err := b.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}
	return &Device{store: dev}, nil
}

// Provision links a new device. QR codes are delivered as URL events unless
// a phone number is given, in which case a single pairing code is requested.
func (b *Backend) Provision(ctx context.Context, opts protocol.ProvisionOptions) (<-chan protocol.ProvisioningEvent, error) {
	dev := b.container.NewDevice()
	cli := whatsmeow.NewClient(dev, b.waLogger.Sub("provision"))

	qrCh, err := cli.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get qr channel: %w", err)
	}
	if err := cli.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	out := make(chan protocol.ProvisioningEvent, 4)
	go func() {
		defer close(out)
		linked := false
		defer func() {
			if !linked {
				cli.Disconnect()
			}
		}()

		emit := func(ev protocol.ProvisioningEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		codeRequested := false
		for item := range qrCh {
			switch item.Event {
			case "code":
				if opts.PhoneNumber == "" {
					if !emit(protocol.ProvisioningEvent{Type: protocol.ProvisioningURL, URL: item.Code}) {
						return
					}
					continue
				}
				if codeRequested {
					continue
				}
				codeRequested = true
				code, err := cli.PairPhone(ctx, opts.PhoneNumber, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
				if err != nil {
					emit(protocol.ProvisioningEvent{Type: protocol.ProvisioningError, Err: fmt.Errorf("pair phone: %w", err)})
					return
				}
				if !emit(protocol.ProvisioningEvent{Type: protocol.ProvisioningPairingCode, Code: code}) {
					return
				}
			case "success":
				linked = true
				cli.Disconnect()
				b.logger.Info("device paired", zap.String("jid", dev.ID.String()))
				emit(protocol.ProvisioningEvent{Type: protocol.ProvisioningData, Device: &Device{store: dev}})
				return
			case "timeout":
				emit(protocol.ProvisioningEvent{Type: protocol.ProvisioningError, Err: errors.New("qr code timed out")})
				return
			default:
				err := item.Error
				if err == nil {
					err = fmt.Errorf("unexpected pairing result %q", item.Event)
				}
				emit(protocol.ProvisioningEvent{Type: protocol.ProvisioningError, Err: err})
				return
			}
		}
	}()
	return out, nil
}

// NewClient creates a client bound to dev.
func (b *Backend) NewClient(dev protocol.Device) (protocol.Client, error) {
	d, ok := dev.(*Device)
	if !ok || !d.Valid() {
		return nil, errors.New("device is not linked")
	}
	cli := whatsmeow.NewClient(d.store, b.waLogger.Sub("client"))
	return newClient(cli, d.SelfID(), b.logger), nil
}
