package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name of the control plane.
const ServiceName = "chatlink.v1.Realtime"

// Method names.
const (
	MethodGetStatus      = "GetStatus"
	MethodLogin          = "Login"
	MethodLogout         = "Logout"
	MethodListChats      = "ListChats"
	MethodOpenThread     = "OpenThread"
	MethodCloseThread    = "CloseThread"
	MethodSendMessage    = "SendMessage"
	MethodMarkRead       = "MarkRead"
	MethodSearchMessages = "SearchMessages"
	MethodWatchEvents    = "WatchEvents"
)

// RealtimeServer is the control-plane surface of the daemon. Requests and
// responses are google.protobuf.Struct documents with camelCase keys.
type RealtimeServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenThread(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseThread(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req proto.Message, Resp proto.Message](name string, newReq func() Req, call func(RealtimeServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := newReq()
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RealtimeServer), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RealtimeServer), ctx, req.(Req))
			}
			return interceptor(ctx, req, info, handler)
		},
	}
}

func newStruct() *structpb.Struct { return &structpb.Struct{} }
func newEmpty() *emptypb.Empty    { return &emptypb.Empty{} }

// RealtimeServiceDesc describes the control-plane service for grpc.Server.
var RealtimeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RealtimeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetStatus, newEmpty, RealtimeServer.GetStatus),
		unary(MethodLogin, newStruct, RealtimeServer.Login),
		unary(MethodLogout, newEmpty, RealtimeServer.Logout),
		unary(MethodListChats, newStruct, RealtimeServer.ListChats),
		unary(MethodOpenThread, newStruct, RealtimeServer.OpenThread),
		unary(MethodCloseThread, newStruct, RealtimeServer.CloseThread),
		unary(MethodSendMessage, newStruct, RealtimeServer.SendMessage),
		unary(MethodMarkRead, newStruct, RealtimeServer.MarkRead),
		unary(MethodSearchMessages, newStruct, RealtimeServer.SearchMessages),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				req := newStruct()
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(RealtimeServer).WatchEvents(req, stream)
			},
		},
	},
	Metadata: "chatlink/v1/realtime",
}

// RegisterRealtimeServer registers srv on s.
func RegisterRealtimeServer(s grpc.ServiceRegistrar, srv RealtimeServer) {
	s.RegisterService(&RealtimeServiceDesc, srv)
}

// RealtimeClient calls the control plane over a client connection.
type RealtimeClient struct {
	cc grpc.ClientConnInterface
}

// NewRealtimeClient wraps cc.
func NewRealtimeClient(cc grpc.ClientConnInterface) *RealtimeClient {
	return &RealtimeClient{cc: cc}
}

func (c *RealtimeClient) invoke(ctx context.Context, method string, in proto.Message, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RealtimeClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetStatus, &emptypb.Empty{}, opts...)
}

func (c *RealtimeClient) Login(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodLogin, in, opts...)
}

func (c *RealtimeClient) Logout(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodLogout, &emptypb.Empty{}, opts...)
}

func (c *RealtimeClient) ListChats(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListChats, in, opts...)
}

func (c *RealtimeClient) OpenThread(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodOpenThread, in, opts...)
}

func (c *RealtimeClient) CloseThread(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod(MethodCloseThread), in, new(emptypb.Empty), opts...)
}

func (c *RealtimeClient) SendMessage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSendMessage, in, opts...)
}

func (c *RealtimeClient) MarkRead(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodMarkRead, in, opts...)
}

func (c *RealtimeClient) SearchMessages(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSearchMessages, in, opts...)
}

// EventStream yields events from WatchEvents.
type EventStream struct {
	grpc.ClientStream
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RealtimeClient) WatchEvents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &RealtimeServiceDesc.Streams[0], fullMethod(MethodWatchEvents), opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{ClientStream: stream}, nil
}
