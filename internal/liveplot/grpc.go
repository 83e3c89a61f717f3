package liveplot

import (
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/sweepstation/internal/dataset"
	"github.com/banshee-data/sweepstation/internal/monitoring"
)

// The wire protocol is a single server-streaming RPC carrying dynamic
// structs. Channel layouts differ per run, so messages are structpb values
// rather than a fixed generated schema: the first message on a stream
// describes the active run's channels ("kind": "schema"), every later one is
// a row ("kind": "row") with the coordinate and a values map keyed by
// channel name.
var livePlotServiceDesc = grpc.ServiceDesc{
	ServiceName: "sweepstation.LivePlot",
	HandlerType: (*rowStreamer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "liveplot",
}

type rowStreamer interface {
	subscribe(stream grpc.ServerStream) error
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	// drain the (empty) request message
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(rowStreamer).subscribe(stream)
}

func registerLivePlotService(server *grpc.Server, p *Publisher) {
	server.RegisterService(&livePlotServiceDesc, &livePlotService{publisher: p})
}

type livePlotService struct {
	publisher *Publisher
}

func (s *livePlotService) subscribe(stream grpc.ServerStream) error {
	clientID := fmt.Sprintf("grpc-%d", time.Now().UnixNano())
	client := s.publisher.addClient(clientID)
	defer s.publisher.removeClient(clientID)

	if schema := s.publisher.currentSchema(); schema != nil {
		msg, err := schemaMessage(*schema)
		if err != nil {
			return err
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.doneCh:
			return nil
		case row := <-client.rowCh:
			msg, err := rowMessage(row)
			if err != nil {
				monitoring.Logf("[liveplot] encode row (%d,%d): %v", row.Coord.Outer, row.Coord.Inner, err)
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func schemaMessage(schema dataset.Schema) (*structpb.Struct, error) {
	channels := make([]interface{}, 0, len(schema.Channels))
	for _, c := range schema.Channels {
		channels = append(channels, map[string]interface{}{
			"name":        c.Name,
			"label":       c.Label,
			"unit":        c.Unit,
			"is_setpoint": c.IsSetpoint,
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"kind":      "schema",
		"name":      schema.Name,
		"outer_num": schema.OuterNum,
		"inner_num": schema.InnerNum,
		"is_2d":     schema.Is2D,
		"channels":  channels,
	})
}

func rowMessage(row Row) (*structpb.Struct, error) {
	values := make(map[string]interface{}, len(row.Values))
	for name, v := range row.Values {
		values[name] = v
	}
	return structpb.NewStruct(map[string]interface{}{
		"kind":   "row",
		"outer":  row.Coord.Outer,
		"inner":  row.Coord.Inner,
		"values": values,
	})
}
