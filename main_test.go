package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/phayes/freeport"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/ledgerpool/config"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/factory"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/ledgernode"
	"github.com/vadiminshakov/ledgerpool/core/pool"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
	"github.com/vadiminshakov/ledgerpool/io/gateway/grpc/client"
	"github.com/vadiminshakov/ledgerpool/io/gateway/grpc/server"
	"github.com/vadiminshakov/ledgerpool/io/ledger"
	"github.com/vadiminshakov/ledgerpool/io/store"
	"google.golang.org/grpc"
)

const NODES = 4

const (
	NOT_BLOCKING = iota
	ONE_NODE_DOWN
	TWO_NODES_SLOW
)

var whitelist = []string{"127.0.0.1"}

func nymRequest(reqID int) []byte {
	return []byte(fmt.Sprintf(`{"reqId":%d,"identifier":"Steward1","protocolVersion":2,"operation":{"type":"1","dest":"did-%d","verkey":"~key"}}`, reqID, reqID))
}

func addNodeRequest(alias string, port int) []byte {
	return []byte(fmt.Sprintf(`{"reqId":%d,"identifier":"Steward1","protocolVersion":2,"operation":{"type":"0","dest":"dest-%s","data":{"alias":%q,"client_ip":"127.0.0.1","client_port":%d,"node_ip":"127.0.0.1","node_port":%d,"services":["VALIDATOR"]}}}`,
		port, alias, alias, port, port+1))
}

func newFactory(t *testing.T, txns []string) *factory.Factory {
	f, err := factory.FromTransactions(txns, client.Factory(nil))
	require.NoError(t, err)
	cfg := config.DefaultPool()
	cfg.RequestTimeout = 2 * time.Second
	require.NoError(t, f.SetConfig(cfg))
	return f
}

func TestHappyPath(t *testing.T) {
	log.SetLevel(log.InfoLevel)

	txns, canceller := startnodes(t, NOT_BLOCKING)
	defer canceller()

	r, err := newFactory(t, txns).CreateRunner()
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		out := pool.SubmitRequest(ctx, r, nymRequest(i), nil)
		require.NoError(t, out.Err)
	}

	for i := 1; i <= 3; i++ {
		out := pool.GetTxnFull(ctx, r, dto.LedgerDomain, i)
		require.NoError(t, out.Err)
		txn, ok, err := pool.TxnFromReply(out.Value)
		require.NoError(t, err)
		require.True(t, ok)
		require.Contains(t, txn, fmt.Sprintf("did-%d", i))
	}

	info := pool.GetValidatorInfo(ctx, r)
	require.NoError(t, info.Err)
	require.Len(t, info.Value, NODES)

	require.Equal(t, strings.Join(txns, "\n"), pool.GenesisLog(r))
}

// one node of four refuses every request
//
// result: reads and writes still reach quorum, the failed node has no timing.
func TestOneNodeDown(t *testing.T) {
	log.SetLevel(log.FatalLevel)

	txns, canceller := startnodes(t, ONE_NODE_DOWN)
	defer canceller()

	p, err := newFactory(t, txns).CreateShared()
	require.NoError(t, err)
	defer p.Close()

	out := pool.SubmitRequest(context.Background(), p, nymRequest(1), nil)
	require.NoError(t, out.Err)
	require.False(t, out.Timing.Responded("Node1"))

	read := pool.GetTxn(context.Background(), p, dto.LedgerDomain, 1)
	require.NoError(t, read.Err)
}

// two nodes of four answer after the deadline
//
// result: no quorum of three can form in time, the read fails with a timeout.
func TestTwoNodesSlow(t *testing.T) {
	log.SetLevel(log.FatalLevel)

	txns, canceller := startnodes(t, TWO_NODES_SLOW)
	defer canceller()

	f := newFactory(t, txns)
	cfg := f.Config()
	cfg.RequestTimeout = 300 * time.Millisecond
	require.NoError(t, f.SetConfig(cfg))
	p, err := f.CreateLocal()
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	out := pool.GetTxn(context.Background(), p, dto.LedgerPool, 1)
	require.Error(t, out.Err)
	require.Equal(t, poolerr.KindTimeout, poolerr.KindOf(out.Err))
	require.Less(t, time.Since(start), time.Second)
	require.True(t, out.Timing.Responded("Node3"))
	require.False(t, out.Timing.Responded("Node1"))
}

// a NODE transaction is written to the pool ledger
//
// result: refresh extends the roster, the cache lets a new factory start from it.
func TestRefreshAndCache(t *testing.T) {
	log.SetLevel(log.InfoLevel)

	txns, canceller := startnodes(t, NOT_BLOCKING)
	defer canceller()

	cache, err := store.New(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	f := newFactory(t, txns)
	f.WithCache(cache)
	r, err := f.CreateRunner()
	require.NoError(t, err)
	defer r.Close()

	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	out := pool.SubmitRequest(context.Background(), r, addNodeRequest("Node5", port), nil)
	require.NoError(t, out.Err)

	changed, err := r.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, r.Roster(), NODES+1)

	cached, err := cache.LoadTransactions()
	require.NoError(t, err)
	require.Len(t, cached, NODES+1)

	next := newFactory(t, txns)
	next.WithCache(cache)
	require.Len(t, next.Store().Roster(), NODES+1)
	require.Equal(t, r.RootHash(), next.Store().RootHash())
}

func startnodes(t *testing.T, block int) ([]string, func() error) {
	return startnodesBehind(t, block, nil)
}

// startnodesBehind starts the nodes and writes a genesis in which each node
// advertises advertise(listen) instead of its listen address.
func startnodesBehind(t *testing.T, block int, advertise func(listen string) string) ([]string, func() error) {
	ports, err := freeport.GetFreePorts(NODES)
	failfast(err)

	txns := make([]string, 0, NODES)
	for i, port := range ports {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		if advertise != nil {
			addr = advertise(addr)
		}
		txn, err := genesis.NewNodeTransaction(i+1, genesis.Node{
			ID:       fmt.Sprintf("Node%d", i+1),
			Dest:     fmt.Sprintf("Gw6pDLhcBcoQesN72qfotTgFa7cbuqZpkX3Xo6pLhPh%d", i+1),
			Address:  addr,
			Services: []string{genesis.ServiceValidator},
		})
		failfast(err)
		txns = append(txns, txn)
	}

	dir := t.TempDir()
	stopfuncs := make([]func(), 0, NODES)
	for i, port := range ports {
		alias := fmt.Sprintf("Node%d", i+1)
		ledgers, err := ledger.OpenAll(filepath.Join(dir, alias))
		failfast(err)
		node := ledgernode.New(alias, ledgers)
		failfast(node.Seed(txns))

		conf := &config.Node{Alias: alias, Listen: fmt.Sprintf("127.0.0.1:%d", port), Whitelist: whitelist}
		s, err := server.New(conf, nil, node)
		failfast(err)

		interceptors := []grpc.UnaryServerInterceptor{server.WhiteListChecker}
		switch {
		case block == ONE_NODE_DOWN && i == 0:
			interceptors = append(interceptors, server.DropFirst(1<<30))
		case block == TWO_NODES_SLOW && i < 2:
			interceptors = append(interceptors, server.DelayReplies(2*time.Second))
		}
		failfast(s.Run(interceptors...))
		stopfuncs = append(stopfuncs, s.Stop)
	}

	return txns, func() error {
		for _, f := range stopfuncs {
			f()
		}
		return nil
	}
}

func failfast(err error) {
	if err != nil {
		panic(err)
	}
}
