// Package grpcdispatch is the out-of-process transport for the
// external wire-level agent collaborator: a unary Publish RPC carrying
// one resolved dispatch event per call, serviced by
// google.golang.org/grpc and encoded with google.golang.org/protobuf.
//
// witnessd defines no .proto file of its own: DispatchEvent is a plain
// google.golang.org/protobuf/types/known/structpb.Struct, already a
// real, pre-compiled protobuf.Message. This keeps the wire contract
// genuinely protobuf (reflection, wire format, grpc-go codec all work
// unmodified) without running protoc for a one-message service.
package grpcdispatch

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"witnessd/internal/dispatch"
	"witnessd/internal/events"
)

// DispatchEvent is the wire message for one published event: a
// protobuf Struct with the same field names as dispatch.Event.
type DispatchEvent = structpb.Struct

// Server implements the witnessd.dispatch.Dispatch gRPC service,
// adapting incoming DispatchEvent messages into dispatch.Event and
// publishing them through an in-process Dispatcher.
type Server struct {
	dispatcher *dispatch.Dispatcher
}

// NewServer constructs a Server publishing through d.
func NewServer(d *dispatch.Dispatcher) *Server {
	return &Server{dispatcher: d}
}

// Publish implements the unary RPC: decode the incoming Struct into a
// dispatch.Event and fan it out to every registered listener.
func (s *Server) Publish(ctx context.Context, req *DispatchEvent) (*emptypb.Empty, error) {
	ev := eventFromStruct(req)
	s.dispatcher.PublishExternal(ctx, ev)
	return &emptypb.Empty{}, nil
}

func eventFromStruct(req *DispatchEvent) dispatch.Event {
	if req == nil {
		return dispatch.Event{}
	}
	fields := req.GetFields()
	return dispatch.Event{
		Code:      events.Code(fields["code"].GetNumberValue()),
		Flags:     uint8(fields["flags"].GetNumberValue()),
		String:    fields["string"].GetStringValue(),
		ObjectRef: dispatch.ObjectRef(fields["object_ref"].GetStringValue()),
		ClassRef:  fields["class_ref"].GetStringValue(),
	}
}

// EventToStruct encodes ev as the DispatchEvent wire message a client
// sends over Publish.
func EventToStruct(ev dispatch.Event) *DispatchEvent {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"code":       structpb.NewNumberValue(float64(ev.Code)),
		"flags":      structpb.NewNumberValue(float64(ev.Flags)),
		"string":     structpb.NewStringValue(ev.String),
		"object_ref": structpb.NewStringValue(string(ev.ObjectRef)),
		"class_ref":  structpb.NewStringValue(ev.ClassRef),
	}}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "witnessd.dispatch.Dispatch",
	HandlerType: (*publishHandler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler:    publishUnaryHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "witnessd/dispatch.proto",
}

// publishHandler is the interface grpc.ServiceDesc's HandlerType
// documents as the server-side contract; Server satisfies it.
type publishHandler interface {
	Publish(ctx context.Context, req *DispatchEvent) (*emptypb.Empty, error)
}

func publishUnaryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DispatchEvent)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(publishHandler).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/witnessd.dispatch.Dispatch/Publish",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(publishHandler).Publish(ctx, req.(*DispatchEvent))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterDispatchServer registers s with srv, the way Goa-generated
// …pb.RegisterXServer functions do.
func RegisterDispatchServer(srv grpc.ServiceRegistrar, s *Server) {
	srv.RegisterService(&serviceDesc, s)
}

// Client is a thin wrapper around a grpc.ClientConn for the wire-level
// agent collaborator to publish events into a remote Dispatcher.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection to a grpcdispatch server.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Publish sends ev to the remote Dispatcher.
func (c *Client) Publish(ctx context.Context, ev dispatch.Event) error {
	out := new(emptypb.Empty)
	return c.cc.Invoke(ctx, "/witnessd.dispatch.Dispatch/Publish", EventToStruct(ev), out)
}
