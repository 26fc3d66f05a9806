package client

import (
	"context"

	"github.com/openzipkin/zipkin-go"
	"github.com/vadiminshakov/ledgerpool/io/gateway/grpc/ledgerpb"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// NodeClient talks to one validator node.
type NodeClient struct {
	Addr       string
	Connection ledgerpb.LedgerClient
	Tracer     *zipkin.Tracer
	conn       *grpc.ClientConn
}

// New creates instance of node client.
// 'addr' is the client endpoint of the node (host + port).
func New(addr string, tracer *zipkin.Tracer) (*NodeClient, error) {
	conn, err := createConnection(addr, tracer)
	if err != nil {
		return nil, err
	}
	return &NodeClient{Addr: addr, Connection: ledgerpb.NewLedgerClient(conn), Tracer: tracer, conn: conn}, nil
}

// Submit sends one serialized request and returns the node's serialized reply.
func (client *NodeClient) Submit(ctx context.Context, payload []byte) ([]byte, error) {
	var span zipkin.Span
	if client.Tracer != nil {
		span, ctx = client.Tracer.StartSpanFromContext(ctx, "Submit")
		span.Tag("node.addr", client.Addr)
		defer span.Finish()
	}
	resp, err := client.Connection.Submit(ctx, wrapperspb.Bytes(payload))
	if err != nil {
		return nil, err
	}
	return resp.GetValue(), nil
}

func (client *NodeClient) Close() error {
	return client.conn.Close()
}
