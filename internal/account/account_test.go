package account

import (
	"errors"
	"sync"
	"testing"

	"github.com/matheus3301/chatbridge/internal/bus"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"github.com/matheus3301/chatbridge/internal/protocol/fake"
	"github.com/matheus3301/chatbridge/internal/status"
)

func TestAddGetRemove(t *testing.T) {
	m := NewManager(bus.New())
	a := m.Add(Options{Path: "/tmp/a"})
	b := m.Add(Options{Path: "/tmp/b"})
	if a.ID == b.ID {
		t.Fatalf("duplicate ids %d", a.ID)
	}

	got, err := m.Get(b.ID)
	if err != nil || got.Path != "/tmp/b" {
		t.Fatalf("Get() = %+v, %v", got, err)
	}

	m.Remove(a.ID)
	if _, err := m.Get(a.ID); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("Get(removed) error = %v, want ErrUnknownAccount", err)
	}
	if ids := m.IDs(); len(ids) != 1 || ids[0] != b.ID {
		t.Errorf("IDs() = %v", ids)
	}
}

func TestSessionAndState(t *testing.T) {
	m := NewManager(nil)
	acc := m.Add(Options{})

	if _, err := m.Client(acc.ID); !errors.Is(err, protocol.ErrNotConnected) {
		t.Errorf("Client() before session error = %v", err)
	}

	dev := &fake.Device{ID: "self@s", Linked: true}
	client := fake.NewClient()
	if err := m.SetSession(acc.ID, dev, client); err != nil {
		t.Fatal(err)
	}
	if got, err := m.Client(acc.ID); err != nil || got != client {
		t.Errorf("Client() = %v, %v", got, err)
	}
	if self := m.SelfID(acc.ID); self != "self@s" {
		t.Errorf("SelfID() = %q", self)
	}

	if err := m.SetState(acc.ID, status.Connecting); err != nil {
		t.Fatal(err)
	}
	if st, _ := m.State(acc.ID); st != status.Connecting {
		t.Errorf("State() = %s", st)
	}
	if err := m.SetState(99, status.Connecting); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("SetState(unknown) error = %v", err)
	}

	ch := make(chan protocol.StatusEvent)
	if err := m.SetStatusChan(acc.ID, ch); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.StatusChan(acc.ID); got == nil {
		t.Error("StatusChan() = nil")
	}
}

func TestContactNames(t *testing.T) {
	m := NewManager(nil)
	acc := m.Add(Options{})
	acc.SetContactName("u1", "Bob")
	acc.SetContactName("u2", "")
	if acc.ContactName("u1") != "Bob" || acc.ContactName("u2") != "" {
		t.Errorf("names = %q, %q", acc.ContactName("u1"), acc.ContactName("u2"))
	}
}

func TestConcurrentRegistryAccess(t *testing.T) {
	m := NewManager(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc := m.Add(Options{})
			_ = m.SetSession(acc.ID, nil, nil)
			_, _ = m.Get(acc.ID)
			m.Remove(acc.ID)
		}()
	}
	wg.Wait()
	if n := len(m.IDs()); n != 0 {
		t.Errorf("accounts left = %d", n)
	}
}
