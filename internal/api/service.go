package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "linkauth.v1.Commands"

// Method names.
const (
	MethodCreateSession    = "CreateSession"
	MethodHandleCallback   = "HandleCallback"
	MethodClearSession     = "ClearSession"
	MethodClearAllSessions = "ClearAllSessions"
	MethodGetSession       = "GetSession"
	MethodOpenAuthURL      = "OpenAuthURL"
	MethodDeliverDeepLink  = "DeliverDeepLink"
	MethodCurrentDeepLink  = "CurrentDeepLink"
	MethodSubscribeEvents  = "SubscribeEvents"
)

// FullMethod returns "/linkauth.v1.Commands/<name>".
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// CommandsServer is the server API for the Commands service.
type CommandsServer interface {
	CreateSession(context.Context, *CreateSessionRequest) (*CreateSessionResponse, error)
	HandleCallback(context.Context, *HandleCallbackRequest) (*HandleCallbackResponse, error)
	ClearSession(context.Context, *ClearSessionRequest) (*Empty, error)
	ClearAllSessions(context.Context, *Empty) (*Empty, error)
	GetSession(context.Context, *GetSessionRequest) (*GetSessionResponse, error)
	OpenAuthURL(context.Context, *OpenAuthURLRequest) (*Empty, error)
	DeliverDeepLink(context.Context, *DeliverDeepLinkRequest) (*Empty, error)
	CurrentDeepLink(context.Context, *Empty) (*CurrentDeepLinkResponse, error)
	SubscribeEvents(*SubscribeEventsRequest, grpc.ServerStreamingServer[Event]) error
}

func unary[Req, Resp any](name string, call func(CommandsServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			h := func(ctx context.Context, req any) (any, error) {
				return call(srv.(CommandsServer), ctx, req.(*Req))
			}
			if ic == nil {
				return h(ctx, in)
			}
			return ic(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}, h)
		},
	}
}

func subscribeEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CommandsServer).SubscribeEvents(in, &grpc.GenericServerStream[SubscribeEventsRequest, Event]{ServerStream: stream})
}

// CommandsServiceDesc describes the Commands service for grpc.Server.RegisterService.
var CommandsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CommandsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodCreateSession, CommandsServer.CreateSession),
		unary(MethodHandleCallback, CommandsServer.HandleCallback),
		unary(MethodClearSession, CommandsServer.ClearSession),
		unary(MethodClearAllSessions, CommandsServer.ClearAllSessions),
		unary(MethodGetSession, CommandsServer.GetSession),
		unary(MethodOpenAuthURL, CommandsServer.OpenAuthURL),
		unary(MethodDeliverDeepLink, CommandsServer.DeliverDeepLink),
		unary(MethodCurrentDeepLink, CommandsServer.CurrentDeepLink),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodSubscribeEvents,
			Handler:       subscribeEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "linkauth/v1/commands",
}

// RegisterCommandsServer registers srv on s.
func RegisterCommandsServer(s grpc.ServiceRegistrar, srv CommandsServer) {
	s.RegisterService(&CommandsServiceDesc, srv)
}

// CommandsClient calls the Commands service over a JSON-coded connection.
type CommandsClient struct {
	cc grpc.ClientConnInterface
}

// NewCommandsClient wraps cc.
func NewCommandsClient(cc grpc.ClientConnInterface) *CommandsClient {
	return &CommandsClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, name string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CommandsClient) CreateSession(ctx context.Context, in *CreateSessionRequest, opts ...grpc.CallOption) (*CreateSessionResponse, error) {
	return invoke[CreateSessionResponse](ctx, c.cc, MethodCreateSession, in, opts)
}

func (c *CommandsClient) HandleCallback(ctx context.Context, in *HandleCallbackRequest, opts ...grpc.CallOption) (*HandleCallbackResponse, error) {
	return invoke[HandleCallbackResponse](ctx, c.cc, MethodHandleCallback, in, opts)
}

func (c *CommandsClient) ClearSession(ctx context.Context, in *ClearSessionRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodClearSession, in, opts)
}

func (c *CommandsClient) ClearAllSessions(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodClearAllSessions, in, opts)
}

func (c *CommandsClient) GetSession(ctx context.Context, in *GetSessionRequest, opts ...grpc.CallOption) (*GetSessionResponse, error) {
	return invoke[GetSessionResponse](ctx, c.cc, MethodGetSession, in, opts)
}

func (c *CommandsClient) OpenAuthURL(ctx context.Context, in *OpenAuthURLRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodOpenAuthURL, in, opts)
}

func (c *CommandsClient) DeliverDeepLink(ctx context.Context, in *DeliverDeepLinkRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodDeliverDeepLink, in, opts)
}

func (c *CommandsClient) CurrentDeepLink(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*CurrentDeepLinkResponse, error) {
	return invoke[CurrentDeepLinkResponse](ctx, c.cc, MethodCurrentDeepLink, in, opts)
}

// SubscribeEvents opens the event stream. The first event received is TopicReady.
func (c *CommandsClient) SubscribeEvents(ctx context.Context, in *SubscribeEventsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Event], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &CommandsServiceDesc.Streams[0], FullMethod(MethodSubscribeEvents), opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[SubscribeEventsRequest, Event]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
