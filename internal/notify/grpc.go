package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The Events service is described by hand over protobuf well-known types:
//
//	service Events {
//	  rpc Watch(google.protobuf.StringValue) returns (stream google.protobuf.Struct);
//	}
//
// The request value is a comma separated topic filter, empty for every topic.
// Each streamed Struct carries the seq, topic, payload and time fields of a
// Message.
const (
	EventsServiceName = "pedflow.notify.Events"
	WatchMethod       = "/" + EventsServiceName + "/Watch"
)

// EventsServer is the server API for the Events service.
type EventsServer interface {
	Watch(req *wrapperspb.StringValue, stream grpc.ServerStream) error
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(EventsServer).Watch(req, stream)
}

var eventsServiceDesc = grpc.ServiceDesc{
	ServiceName: EventsServiceName,
	HandlerType: (*EventsServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "pedflow/notify/events",
}

// RegisterEventsServer registers srv on s.
func RegisterEventsServer(s grpc.ServiceRegistrar, srv EventsServer) {
	s.RegisterService(&eventsServiceDesc, srv)
}

// GRPCServer implements EventsServer over a Hub.
type GRPCServer struct {
	hub *Hub
}

// NewGRPCServer returns an Events service backed by h.
func NewGRPCServer(h *Hub) *GRPCServer {
	return &GRPCServer{hub: h}
}

// Watch streams hub messages until the client goes away or the hub closes.
func (g *GRPCServer) Watch(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	id, msgs := g.hub.Subscribe(splitTopics(req.GetValue())...)
	defer g.hub.Unsubscribe(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			st, err := messageToStruct(msg)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(st); err != nil {
				return err
			}
		}
	}
}

// WatchGRPC calls Watch on conn and hands every received message to fn. It
// returns nil when the server ends the stream.
func WatchGRPC(ctx context.Context, conn grpc.ClientConnInterface, topics []string, fn func(Message)) error {
	stream, err := conn.NewStream(ctx, &eventsServiceDesc.Streams[0], WatchMethod)
	if err != nil {
		return fmt.Errorf("open watch stream: %w", err)
	}
	if err := stream.SendMsg(wrapperspb.String(strings.Join(topics, ","))); err != nil {
		return fmt.Errorf("send watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("send watch request: %w", err)
	}
	for {
		st := new(structpb.Struct)
		if err := stream.RecvMsg(st); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		msg, err := messageFromStruct(st)
		if err != nil {
			return err
		}
		fn(msg)
	}
}

func splitTopics(s string) []string {
	var topics []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

func messageToStruct(m Message) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"seq":     float64(m.Seq),
		"topic":   m.Topic,
		"payload": m.Payload,
		"time":    m.Time.UTC().Format(time.RFC3339Nano),
	})
}

func messageFromStruct(st *structpb.Struct) (Message, error) {
	f := st.GetFields()
	t, err := time.Parse(time.RFC3339Nano, f["time"].GetStringValue())
	if err != nil {
		return Message{}, fmt.Errorf("decode event time: %w", err)
	}
	return Message{
		Seq:     uint64(f["seq"].GetNumberValue()),
		Topic:   f["topic"].GetStringValue(),
		Payload: f["payload"].GetStringValue(),
		Time:    t,
	}, nil
}
