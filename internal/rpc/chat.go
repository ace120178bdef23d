package rpc

import (
	"context"

	"github.com/matheus3301/chatbridge/internal/store"
)

const defaultLimit = 50

func limitOr(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}

func (s *Service) ListChats(_ context.Context, req *ListChatsRequest) (*ListChatsResponse, error) {
	limit := limitOr(req.Limit)
	chats, err := s.db.ListChats(limit, req.Offset)
	if err != nil {
		return nil, toStatus("list chats", err)
	}
	if chats == nil {
		chats = []store.Chat{}
	}
	return &ListChatsResponse{Chats: chats, HasMore: len(chats) == limit}, nil
}

func (s *Service) ListContacts(_ context.Context, _ *Empty) (*ListContactsResponse, error) {
	contacts, err := s.db.ListContacts()
	if err != nil {
		return nil, toStatus("list contacts", err)
	}
	if contacts == nil {
		contacts = []store.Contact{}
	}
	return &ListContactsResponse{Contacts: contacts}, nil
}

func (s *Service) RequestContacts(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.adapter.RequestContacts(ctx, s.connID); err != nil {
		return nil, toStatus("request contacts", err)
	}
	return &Empty{}, nil
}

func (s *Service) Typing(ctx context.Context, req *TypingRequest) (*Empty, error) {
	if err := required("chat_id", req.ChatID); err != nil {
		return nil, err
	}
	if err := s.adapter.SendTyping(ctx, s.connID, req.ChatID, req.Typing); err != nil {
		return nil, toStatus("typing", err)
	}
	return &Empty{}, nil
}

func (s *Service) DeleteChat(ctx context.Context, req *ChatRequest) (*Empty, error) {
	if err := required("chat_id", req.ChatID); err != nil {
		return nil, err
	}
	if err := s.adapter.DeleteChat(ctx, s.connID, req.ChatID); err != nil {
		return nil, toStatus("delete chat", err)
	}
	return &Empty{}, nil
}
