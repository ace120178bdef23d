// Package rpc is the daemon control API: a gRPC service over the profile's
// Unix socket, described by hand and encoded as JSON.
package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatbridge.v1.Bridge"

// BridgeServer is implemented by *Service.
type BridgeServer interface {
	Status(context.Context, *Empty) (*StatusResponse, error)
	Logout(context.Context, *Empty) (*Empty, error)
	ListChats(context.Context, *ListChatsRequest) (*ListChatsResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	Search(context.Context, *SearchRequest) (*SearchResponse, error)
	ListContacts(context.Context, *Empty) (*ListContactsResponse, error)
	RequestContacts(context.Context, *Empty) (*Empty, error)
	Send(context.Context, *SendRequest) (*SendResponse, error)
	Edit(context.Context, *EditRequest) (*Empty, error)
	Typing(context.Context, *TypingRequest) (*Empty, error)
	React(context.Context, *MessageRequest) (*Empty, error)
	MarkRead(context.Context, *MessageRequest) (*Empty, error)
	DeleteMessage(context.Context, *MessageRequest) (*Empty, error)
	DeleteChat(context.Context, *ChatRequest) (*Empty, error)
	Download(context.Context, *DownloadRequest) (*DownloadResponse, error)

	Login(*LoginRequest, grpc.ServerStream) error
	Watch(*WatchRequest, grpc.ServerStream) error
}

const (
	streamLogin = iota
	streamWatch
)

// ServiceDesc registers BridgeServer with a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", BridgeServer.Status),
		unary("Logout", BridgeServer.Logout),
		unary("ListChats", BridgeServer.ListChats),
		unary("ListMessages", BridgeServer.ListMessages),
		unary("Search", BridgeServer.Search),
		unary("ListContacts", BridgeServer.ListContacts),
		unary("RequestContacts", BridgeServer.RequestContacts),
		unary("Send", BridgeServer.Send),
		unary("Edit", BridgeServer.Edit),
		unary("Typing", BridgeServer.Typing),
		unary("React", BridgeServer.React),
		unary("MarkRead", BridgeServer.MarkRead),
		unary("DeleteMessage", BridgeServer.DeleteMessage),
		unary("DeleteChat", BridgeServer.DeleteChat),
		unary("Download", BridgeServer.Download),
	},
	Streams: []grpc.StreamDesc{
		streamLogin: {
			StreamName:    "Login",
			Handler:       serverStream(BridgeServer.Login),
			ServerStreams: true,
		},
		streamWatch: {
			StreamName:    "Watch",
			Handler:       serverStream(BridgeServer.Watch),
			ServerStreams: true,
		},
	},
	Metadata: "chatbridge/v1/bridge",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(BridgeServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BridgeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BridgeServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func serverStream[Req any](call func(BridgeServer, *Req, grpc.ServerStream) error) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		in := new(Req)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return call(srv.(BridgeServer), in, stream)
	}
}
