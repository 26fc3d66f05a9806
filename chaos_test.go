//go:build chaos

// To run this tests you need to install toxiproxy
//
//	# macOS/Linux
//	curl -L -o toxiproxy-server https://github.com/Shopify/toxiproxy/releases/download/v2.12.0/toxiproxy-server-darwin-amd64
//	chmod +x toxiproxy-server
//	mv toxiproxy-server ~/go/bin/
//
// And then run `go test -tags chaos -run Chaos .`
package main

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/pool"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
)

const TOXIPROXY_URL = "http://localhost:8474"

func chaosPool(t *testing.T, timeout time.Duration, poison func(h *chaosTestHelper, roster []genesis.Node)) (*pool.Shared, func()) {
	h := newChaosTestHelper(TOXIPROXY_URL)
	txns, canceller := startnodesBehind(t, NOT_BLOCKING, h.advertise)

	f := newFactory(t, txns)
	cfg := f.Config()
	cfg.RequestTimeout = timeout
	require.NoError(t, f.SetConfig(cfg))
	p, err := f.CreateShared()
	require.NoError(t, err)

	poison(h, p.Roster())
	return p, func() {
		p.Close()
		canceller()
		require.NoError(t, h.cleanup())
	}
}

func TestChaosNodeFailure(t *testing.T) {
	log.SetLevel(log.InfoLevel)

	// immediate connection reset of one node
	t.Run("immediate_reset", func(t *testing.T) {
		p, done := chaosPool(t, 2*time.Second, func(h *chaosTestHelper, roster []genesis.Node) {
			require.NoError(t, h.addResetPeer(roster[0].Address, 0))
		})
		defer done()

		out := pool.GetTxn(context.Background(), p, dto.LedgerPool, 1)
		require.NoError(t, out.Err)
		require.False(t, out.Timing.Responded("Node1"))
	})

	// connection of one node drops after 10 bytes of data
	t.Run("node failure after 10 bytes", func(t *testing.T) {
		p, done := chaosPool(t, 2*time.Second, func(h *chaosTestHelper, roster []genesis.Node) {
			require.NoError(t, h.addDataLimit(roster[0].Address, 10))
		})
		defer done()

		out := pool.SubmitRequest(context.Background(), p, nymRequest(1), nil)
		require.NoError(t, out.Err)
	})

	// two nodes of four reset every connection
	t.Run("two nodes reset", func(t *testing.T) {
		p, done := chaosPool(t, 2*time.Second, func(h *chaosTestHelper, roster []genesis.Node) {
			require.NoError(t, h.addResetPeer(roster[0].Address, 0))
			require.NoError(t, h.addResetPeer(roster[1].Address, 0))
		})
		defer done()

		start := time.Now()
		out := pool.GetTxn(context.Background(), p, dto.LedgerPool, 1)
		require.Error(t, out.Err)
		require.Equal(t, poolerr.KindNoConsensus, poolerr.KindOf(out.Err))
		require.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestChaosLatency(t *testing.T) {
	log.SetLevel(log.InfoLevel)

	// one slow node does not hold the round back
	t.Run("one slow node", func(t *testing.T) {
		p, done := chaosPool(t, 2*time.Second, func(h *chaosTestHelper, roster []genesis.Node) {
			require.NoError(t, h.addLatency(roster[3].Address, 1500*time.Millisecond))
		})
		defer done()

		start := time.Now()
		out := pool.GetTxn(context.Background(), p, dto.LedgerPool, 2)
		require.NoError(t, out.Err)
		require.Less(t, time.Since(start), time.Second)
		require.False(t, out.Timing.Responded("Node4"))
	})

	// two slow nodes push the round past its deadline
	t.Run("two slow nodes", func(t *testing.T) {
		p, done := chaosPool(t, 500*time.Millisecond, func(h *chaosTestHelper, roster []genesis.Node) {
			require.NoError(t, h.addLatency(roster[2].Address, 2*time.Second))
			require.NoError(t, h.addLatency(roster[3].Address, 2*time.Second))
		})
		defer done()

		out := pool.GetTxn(context.Background(), p, dto.LedgerPool, 2)
		require.Equal(t, poolerr.KindTimeout, poolerr.KindOf(out.Err))
	})
}
