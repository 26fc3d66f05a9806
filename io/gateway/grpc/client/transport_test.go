package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/ledgerpool/config"
	"github.com/vadiminshakov/ledgerpool/core/consensus"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/ledgernode"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
	"github.com/vadiminshakov/ledgerpool/core/request"
	"github.com/vadiminshakov/ledgerpool/core/transport"
	"github.com/vadiminshakov/ledgerpool/io/gateway/grpc/server"
	"google.golang.org/grpc"
)

func startNode(t *testing.T, alias string, interceptors ...grpc.UnaryServerInterceptor) genesis.Node {
	t.Helper()
	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	txns, err := ledgernode.GenesisFor(4, 9702)
	require.NoError(t, err)
	node := ledgernode.New(alias, nil)
	require.NoError(t, node.Seed(txns))

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s, err := server.New(&config.Node{Alias: alias, Listen: addr}, nil, node)
	require.NoError(t, err)
	require.NoError(t, s.Run(interceptors...))
	t.Cleanup(s.Stop)
	return genesis.Node{ID: alias, Address: addr}
}

func payload(t *testing.T) []byte {
	t.Helper()
	req, err := request.NewBuilder(dto.ProtocolV2, request.DefaultIdentifier).GetTxn(dto.LedgerPool, 2)
	require.NoError(t, err)
	return req.Payload
}

func TestTransport_SendAndAwait(t *testing.T) {
	for _, d := range []transport.Discipline{transport.Local, transport.Shared} {
		t.Run(d.String(), func(t *testing.T) {
			node := startNode(t, "Node1")
			tr := Factory(nil)(d)
			defer tr.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			h, err := tr.Send(ctx, node, payload(t))
			require.NoError(t, err)
			require.Equal(t, "Node1", h.Node())

			reply, err := tr.AwaitReply(ctx, h)
			require.NoError(t, err)
			require.Equal(t, "Node1", reply.Node)
			require.Greater(t, reply.Latency, time.Duration(0))

			res, err := consensus.ParseReply(reply.Payload)
			require.NoError(t, err)
			require.NotNil(t, res["data"])
		})
	}
}

func TestTransport_ReusesConnection(t *testing.T) {
	node := startNode(t, "Node1")
	tr := NewTransport(transport.Local, nil)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		h, err := tr.Send(ctx, node, payload(t))
		require.NoError(t, err)
		_, err = tr.AwaitReply(ctx, h)
		require.NoError(t, err)
	}
	require.Len(t, tr.clients, 1)
}

func TestTransport_RedialsMovedNode(t *testing.T) {
	first := startNode(t, "Node1")
	moved := startNode(t, "Node1")
	tr := NewTransport(transport.Local, nil)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, n := range []genesis.Node{first, moved} {
		h, err := tr.Send(ctx, n, payload(t))
		require.NoError(t, err)
		_, err = tr.AwaitReply(ctx, h)
		require.NoError(t, err)
	}
	require.Equal(t, moved.Address, tr.clients["Node1"].Addr)
}

func TestTransport_UnreachableNode(t *testing.T) {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	node := genesis.Node{ID: "Ghost", Address: fmt.Sprintf("127.0.0.1:%d", port)}

	tr := NewTransport(transport.Local, nil)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := tr.Send(ctx, node, payload(t))
	require.NoError(t, err)

	_, err = tr.AwaitReply(ctx, h)
	require.Error(t, err)
	require.Equal(t, poolerr.KindConnection, poolerr.KindOf(err))
}

func TestTransport_AwaitTimesOut(t *testing.T) {
	node := startNode(t, "Node1", server.DelayReplies(time.Second))
	tr := NewTransport(transport.Local, nil)
	defer tr.Close()

	h, err := tr.Send(context.Background(), node, payload(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = tr.AwaitReply(ctx, h)
	require.Equal(t, poolerr.KindTimeout, poolerr.KindOf(err))
}

func TestTransport_Closed(t *testing.T) {
	tr := NewTransport(transport.Shared, nil)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err := tr.Send(context.Background(), genesis.Node{ID: "Node1", Address: "127.0.0.1:1"}, nil)
	require.Equal(t, poolerr.KindConnection, poolerr.KindOf(err))
}
