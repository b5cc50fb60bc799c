package stream

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "visualmesh.BatchService"

const streamBatchesMethod = "/" + ServiceName + "/StreamBatches"

// batchServer is the server side of the batch service.
type batchServer interface {
	StreamBatches(req *SubscribeRequest, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*batchServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamBatches",
			Handler:       streamBatchesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "visualmesh/batch.proto",
}

func streamBatchesHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(batchServer).StreamBatches(req, stream)
}

// Subscription is an open batch stream.
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe opens a batch stream on conn. The stream ends when ctx is
// cancelled or the publisher stops.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface, clientName string) (*Subscription, error) {
	cs, err := conn.NewStream(ctx, &serviceDesc.Streams[0], streamBatchesMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, fmt.Errorf("open batch stream: %w", err)
	}
	if err := cs.SendMsg(&SubscribeRequest{ClientName: clientName}); err != nil {
		return nil, fmt.Errorf("send subscribe request: %w", err)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, fmt.Errorf("close send: %w", err)
	}
	return &Subscription{stream: cs}, nil
}

// Recv blocks for the next batch. It returns io.EOF when the server ends
// the stream cleanly.
func (s *Subscription) Recv() (*BatchMessage, error) {
	m := new(BatchMessage)
	if err := s.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
