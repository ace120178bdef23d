package rpc

import (
	"context"

	"github.com/google/uuid"
	"github.com/matheus3301/chatbridge/internal/bus"
	"github.com/matheus3301/chatbridge/internal/outbox"
	"github.com/matheus3301/chatbridge/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func (s *Service) ListMessages(_ context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	if err := required("chat_id", req.ChatID); err != nil {
		return nil, err
	}
	limit := limitOr(req.Limit)
	msgs, err := s.db.ListMessages(req.ChatID, req.BeforeTs, limit)
	if err != nil {
		return nil, toStatus("list messages", err)
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return &ListMessagesResponse{Messages: msgs, HasMore: len(msgs) == limit}, nil
}

func (s *Service) Search(_ context.Context, req *SearchRequest) (*SearchResponse, error) {
	if err := required("query", req.Query); err != nil {
		return nil, err
	}
	results, err := s.db.SearchMessages(req.Query, req.ChatID, limitOr(req.Limit))
	if err != nil {
		return nil, toStatus("search messages", err)
	}
	if results == nil {
		results = []store.SearchResult{}
	}
	return &SearchResponse{Results: results}, nil
}

// Send queues a message on the outbox. With Wait set it returns once the
// sender reports the outcome.
func (s *Service) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	if err := required("chat_id", req.ChatID); err != nil {
		return nil, err
	}
	if req.Text == "" && req.FilePath == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "text or file_path is required")
	}

	entry := &store.OutboxEntry{
		ClientMsgID: uuid.New().String(),
		ChatID:      req.ChatID,
		Body:        req.Text,
		QuotedID:    req.QuotedID,
		FilePath:    req.FilePath,
	}
	resp := &SendResponse{ClientMsgID: entry.ClientMsgID, Status: store.OutboxQueued}

	var results <-chan bus.Event
	if req.Wait {
		ch, unsub := s.bus.Subscribe("outbox.", 64)
		defer unsub()
		results = ch
	}
	if err := s.db.QueueOutbox(entry); err != nil {
		return nil, toStatus("queue outbox", err)
	}
	if !req.Wait {
		return resp, nil
	}

	for {
		select {
		case evt := <-results:
			r, ok := evt.Payload.(outbox.Result)
			if !ok || r.ClientMsgID != entry.ClientMsgID {
				continue
			}
			if evt.Kind == outbox.KindFailed {
				resp.Status = store.OutboxFailed
				resp.Error = r.Error
			} else {
				resp.Status = store.OutboxSent
				resp.ServerMsgID = r.ServerMsgID
			}
			return resp, nil
		case <-ctx.Done():
			// Still queued; the sender keeps trying.
			return resp, nil
		}
	}
}

func (s *Service) Edit(ctx context.Context, req *EditRequest) (*Empty, error) {
	if err := required("chat_id", req.ChatID); err != nil {
		return nil, err
	}
	if err := required("msg_id", req.MsgID); err != nil {
		return nil, err
	}
	if err := s.adapter.EditMessage(ctx, s.connID, req.ChatID, req.MsgID, req.Text); err != nil {
		return nil, toStatus("edit", err)
	}
	return &Empty{}, nil
}

func (s *Service) React(ctx context.Context, req *MessageRequest) (*Empty, error) {
	if err := checkMessage(req); err != nil {
		return nil, err
	}
	if err := s.adapter.SendReaction(ctx, s.connID, req.ChatID, req.MsgID, req.SenderID, req.Emoji); err != nil {
		return nil, toStatus("react", err)
	}
	return &Empty{}, nil
}

func (s *Service) MarkRead(ctx context.Context, req *MessageRequest) (*Empty, error) {
	if err := checkMessage(req); err != nil {
		return nil, err
	}
	if err := s.adapter.MarkRead(ctx, s.connID, req.ChatID, req.MsgID, req.SenderID); err != nil {
		return nil, toStatus("mark read", err)
	}
	return &Empty{}, nil
}

func (s *Service) DeleteMessage(ctx context.Context, req *MessageRequest) (*Empty, error) {
	if err := checkMessage(req); err != nil {
		return nil, err
	}
	if err := s.adapter.DeleteMessage(ctx, s.connID, req.ChatID, req.MsgID, req.SenderID); err != nil {
		return nil, toStatus("delete message", err)
	}
	return &Empty{}, nil
}

// Download resolves the attachment of a cached message to a local file.
func (s *Service) Download(ctx context.Context, req *DownloadRequest) (*DownloadResponse, error) {
	if err := checkMessage(&MessageRequest{ChatID: req.ChatID, MsgID: req.MsgID}); err != nil {
		return nil, err
	}
	msg, err := s.db.GetMessage(req.ChatID, req.MsgID)
	if err != nil {
		return nil, toStatus("get message", err)
	}
	if msg == nil {
		return nil, grpcstatus.Errorf(codes.NotFound, "message %q not found in %q", req.MsgID, req.ChatID)
	}
	if msg.FileID == "" {
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "message %q has no attachment", req.MsgID)
	}
	path, st, err := s.adapter.DownloadFile(ctx, s.connID, req.ChatID, req.MsgID, msg.FileID, req.Action)
	if err != nil {
		return nil, toStatus("download", err)
	}
	return &DownloadResponse{Path: path, Status: int(st)}, nil
}

func checkMessage(req *MessageRequest) error {
	if err := required("chat_id", req.ChatID); err != nil {
		return err
	}
	return required("msg_id", req.MsgID)
}
