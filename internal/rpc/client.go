package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps the gRPC connection to a profile daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c, "Status", &Empty{})
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := invoke[Empty](ctx, c, "Logout", &Empty{})
	return err
}

func (c *Client) ListChats(ctx context.Context, req *ListChatsRequest) (*ListChatsResponse, error) {
	return invoke[ListChatsResponse](ctx, c, "ListChats", req)
}

func (c *Client) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	return invoke[ListMessagesResponse](ctx, c, "ListMessages", req)
}

func (c *Client) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	return invoke[SearchResponse](ctx, c, "Search", req)
}

func (c *Client) ListContacts(ctx context.Context) (*ListContactsResponse, error) {
	return invoke[ListContactsResponse](ctx, c, "ListContacts", &Empty{})
}

func (c *Client) RequestContacts(ctx context.Context) error {
	_, err := invoke[Empty](ctx, c, "RequestContacts", &Empty{})
	return err
}

func (c *Client) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	return invoke[SendResponse](ctx, c, "Send", req)
}

func (c *Client) Edit(ctx context.Context, req *EditRequest) error {
	_, err := invoke[Empty](ctx, c, "Edit", req)
	return err
}

func (c *Client) Typing(ctx context.Context, req *TypingRequest) error {
	_, err := invoke[Empty](ctx, c, "Typing", req)
	return err
}

func (c *Client) React(ctx context.Context, req *MessageRequest) error {
	_, err := invoke[Empty](ctx, c, "React", req)
	return err
}

func (c *Client) MarkRead(ctx context.Context, req *MessageRequest) error {
	_, err := invoke[Empty](ctx, c, "MarkRead", req)
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, req *MessageRequest) error {
	_, err := invoke[Empty](ctx, c, "DeleteMessage", req)
	return err
}

func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	_, err := invoke[Empty](ctx, c, "DeleteChat", &ChatRequest{ChatID: chatID})
	return err
}

func (c *Client) Download(ctx context.Context, req *DownloadRequest) (*DownloadResponse, error) {
	return invoke[DownloadResponse](ctx, c, "Download", req)
}

// Login starts a login and calls fn for every streamed event. It returns
// when the daemon reports the attempt done.
func (c *Client) Login(ctx context.Context, req *LoginRequest, fn func(*LoginEvent) error) error {
	return stream(ctx, c, streamLogin, req, func(ev *LoginEvent) (bool, error) {
		if err := fn(ev); err != nil {
			return false, err
		}
		return !ev.Done, nil
	})
}

// Watch calls fn for every event until ctx is cancelled or fn fails.
func (c *Client) Watch(ctx context.Context, req *WatchRequest, fn func(*Envelope) error) error {
	return stream(ctx, c, streamWatch, req, func(env *Envelope) (bool, error) {
		return true, fn(env)
	})
}

func stream[Resp any](ctx context.Context, c *Client, idx int, req any, next func(*Resp) (bool, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	desc := &ServiceDesc.Streams[idx]
	s, err := c.conn.NewStream(ctx, desc, fullMethod(desc.StreamName))
	if err != nil {
		return err
	}
	if err := s.SendMsg(req); err != nil {
		return err
	}
	if err := s.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(Resp)
		if err := s.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		more, err := next(msg)
		if err != nil || !more {
			return err
		}
	}
}
