package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatbridge/internal/bus"
	"github.com/matheus3301/chatbridge/internal/connect"
	"github.com/matheus3301/chatbridge/internal/notify"
	"github.com/matheus3301/chatbridge/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func (s *Service) Status(_ context.Context, _ *Empty) (*StatusResponse, error) {
	acc, err := s.accounts.Get(s.connID)
	if err != nil {
		return nil, toStatus("status", err)
	}
	resp := &StatusResponse{
		Profile:  s.profile,
		State:    string(acc.Machine.Current()),
		SelfID:   s.accounts.SelfID(s.connID),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if dev, _, err := s.accounts.Session(s.connID); err == nil && dev != nil {
		resp.Linked = dev.Valid()
	}

	// Populate counts from store.
	if s.db != nil {
		if n, err := s.db.ChatCount(); err == nil {
			resp.ChatCount = n
		}
		if n, err := s.db.MessageCount(); err == nil {
			resp.MessageCount = n
		}
		if ok, err := s.db.HistoryTransferred(); err == nil {
			resp.HistoryTransferred = ok
		}
	}
	return resp, nil
}

// Login connects the account, streaming provisioning prompts and state
// changes until the attempt finishes.
func (s *Service) Login(req *LoginRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	ch, unsub := s.bus.Subscribe("session.", 64)
	defer unsub()

	done := make(chan error, 1)
	go func() {
		done <- s.connector.Login(ctx, s.connID, connect.LoginOptions{Phone: req.Phone})
	}()

	forward := func(evt bus.Event) error {
		if evt.Account != s.connID {
			return nil
		}
		if ev, ok := loginEvent(evt); ok {
			return stream.SendMsg(ev)
		}
		return nil
	}

	for {
		select {
		case evt := <-ch:
			if err := forward(evt); err != nil {
				return err
			}
		case err := <-done:
			for drained := false; !drained; {
				select {
				case evt := <-ch:
					if err := forward(evt); err != nil {
						return err
					}
				default:
					drained = true
				}
			}
			final := &LoginEvent{Done: true}
			if acc, aerr := s.accounts.Get(s.connID); aerr == nil {
				final.State = string(acc.Machine.Current())
			}
			if err != nil {
				final.Error = err.Error()
			}
			return stream.SendMsg(final)
		}
	}
}

func loginEvent(evt bus.Event) (*LoginEvent, bool) {
	switch p := evt.Payload.(type) {
	case notify.Provisioning:
		return &LoginEvent{URL: p.URL, Code: p.Code}, true
	case status.StatusChange:
		return &LoginEvent{State: string(p.To)}, true
	}
	return nil, false
}

func (s *Service) Logout(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.connector.Logout(ctx, s.connID); err != nil {
		return nil, toStatus("logout", err)
	}
	return &Empty{}, nil
}

// Watch streams bus events as JSON envelopes until the client goes away.
func (s *Service) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(req.Namespace, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env, err := envelope(evt)
			if err != nil {
				s.logger.Warn("skipping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func envelope(evt bus.Event) (*Envelope, error) {
	env := &Envelope{
		ID:         uuid.New().String(),
		Kind:       evt.Kind,
		Account:    evt.Account,
		OccurredMs: evt.Timestamp.UnixMilli(),
	}
	if evt.Payload != nil {
		raw, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return env, nil
}
