package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/ledgerpool/config"
	"github.com/vadiminshakov/ledgerpool/core/consensus/hooks"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/ledgernode"
	"github.com/vadiminshakov/ledgerpool/core/pool"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
	"github.com/vadiminshakov/ledgerpool/core/transport/memory"
)

func testConfig() config.PoolConfig {
	cfg := config.DefaultPool()
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

func newRunner(t *testing.T, cfg config.PoolConfig, net func(c *ledgernode.Cluster) *memory.Network) (*Runner, *ledgernode.Cluster) {
	t.Helper()
	c, err := ledgernode.NewCluster(4)
	require.NoError(t, err)
	store, err := c.Store()
	require.NoError(t, err)

	n := c.Network
	if net != nil {
		n = net(c)
	}
	p, err := pool.NewLocal(cfg, store, n.Factory(), pool.WithHooks(hooks.NewDefaultHook()))
	require.NoError(t, err)
	r := New(p)
	t.Cleanup(func() { r.Stop() })
	return r, c
}

func silent(c *ledgernode.Cluster) *memory.Network {
	n := memory.NewNetwork()
	for _, node := range c.Nodes {
		n.Handle(node.Alias(), memory.Silent())
	}
	return n
}

func TestRunner_ServesPoolOperations(t *testing.T) {
	r, c := newRunner(t, testConfig(), nil)

	out := pool.GetTxn(context.Background(), r, dto.LedgerPool, 1)
	require.NoError(t, out.Err)
	require.Len(t, out.Timing, 4)

	info := pool.GetValidatorInfo(context.Background(), r)
	require.NoError(t, info.Err)
	require.Len(t, info.Value, 4)

	require.Equal(t, len(c.Genesis), len(r.Transactions()))
	require.Equal(t, pool.GenesisLog(r), pool.GenesisLog(r))
	require.Equal(t, 0, r.Pending())
}

func TestRunner_ConcurrentCallers(t *testing.T) {
	r, _ := newRunner(t, testConfig(), nil)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- pool.GetTxn(context.Background(), r, dto.LedgerPool, i%4+1).Err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestRunner_RoundsOverlap(t *testing.T) {
	r, _ := newRunner(t, testConfig(), func(c *ledgernode.Cluster) *memory.Network {
		n := memory.NewNetwork()
		for _, node := range c.Nodes {
			node := node
			n.Handle(node.Alias(), func(payload []byte) ([]byte, time.Duration, error) {
				reply, err := node.Handle(payload)
				return reply, 100 * time.Millisecond, err
			})
		}
		return n
	})

	start := time.Now()
	a, err := r.Builder().GetTxn(dto.LedgerPool, 1)
	require.NoError(t, err)
	b, err := r.Builder().GetTxn(dto.LedgerPool, 2)
	require.NoError(t, err)
	fa := r.SubmitAsync(context.Background(), a)
	fb := r.SubmitAsync(context.Background(), b)
	require.NoError(t, fa.Outcome().Err)
	require.NoError(t, fb.Outcome().Err)
	require.Less(t, time.Since(start), 190*time.Millisecond)
}

func TestRunner_StopCancelsInFlight(t *testing.T) {
	r, _ := newRunner(t, testConfig(), silent)

	req, err := r.Builder().GetTxn(dto.LedgerDomain, 1)
	require.NoError(t, err)
	fut := r.SubmitAsync(context.Background(), req)

	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Stop())

	select {
	case <-fut.Done():
	case <-time.After(time.Second):
		t.Fatal("future left unresolved")
	}
	out := fut.Outcome()
	require.True(t, errors.Is(out.Err, poolerr.ErrCancelled))
	require.False(t, errors.Is(out.Err, poolerr.ErrTimeout))
}

func TestRunner_StopCancelsQueued(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 1
	r, _ := newRunner(t, cfg, silent)

	futures := make([]*Future[string], 0, 3)
	for i := 1; i <= 3; i++ {
		req, err := r.Builder().GetTxn(dto.LedgerDomain, i)
		require.NoError(t, err)
		futures = append(futures, r.SubmitAsync(context.Background(), req))
	}
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())

	for _, fut := range futures {
		out := fut.Wait(context.Background())
		require.True(t, errors.Is(out.Err, poolerr.ErrCancelled))
	}

	out := pool.GetTxn(context.Background(), r, dto.LedgerPool, 1)
	require.True(t, errors.Is(out.Err, poolerr.ErrCancelled))
	_, err := r.Refresh(context.Background())
	require.True(t, errors.Is(err, poolerr.ErrCancelled))
}

func TestRunner_CallerCancellation(t *testing.T) {
	r, _ := newRunner(t, testConfig(), silent)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := r.Builder().GetTxn(dto.LedgerDomain, 1)
	require.NoError(t, err)
	fut := r.SubmitAsync(ctx, req)
	cancel()
	require.True(t, errors.Is(fut.Outcome().Err, poolerr.ErrCancelled))

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out := pool.GetTxn(ctx, r, dto.LedgerDomain, 1)
	require.True(t, errors.Is(out.Err, poolerr.ErrTimeout))
}

func TestRunner_Refresh(t *testing.T) {
	r, _ := newRunner(t, testConfig(), nil)

	raw := []byte(`{"reqId":1,"identifier":"Steward1","protocolVersion":2,"operation":{"type":"0","dest":"dest-Node5","data":{"alias":"Node5","client_ip":"127.0.0.1","client_port":9710,"services":["VALIDATOR"]}}}`)
	require.NoError(t, pool.SubmitRequest(context.Background(), r, raw, nil).Err)

	changed, err := r.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, r.Roster(), 5)
}

func TestRunner_RefreshKeepsDeadlines(t *testing.T) {
	r, _ := newRunner(t, testConfig(), func(c *ledgernode.Cluster) *memory.Network {
		n := memory.NewNetwork()
		for _, node := range c.Nodes {
			n.Handle(node.Alias(), func(payload []byte) ([]byte, time.Duration, error) {
				if !strings.Contains(string(payload), `"ledgerId":0`) {
					return nil, 0, nil
				}
				return []byte(`{"op":"REPLY","result":{"type":"3","data":null}}`), 800 * time.Millisecond, nil
			})
		}
		return n
	})

	req, err := r.Builder().GetTxn(dto.LedgerDomain, 1)
	require.NoError(t, err)
	req.Deadline = time.Now().Add(50 * time.Millisecond)
	start := time.Now()
	fut := r.SubmitAsync(context.Background(), req)

	refreshed := make(chan error, 1)
	time.AfterFunc(5*time.Millisecond, func() {
		_, err := r.Refresh(context.Background())
		refreshed <- err
	})

	out := fut.Outcome()
	require.True(t, errors.Is(out.Err, poolerr.ErrTimeout))
	require.Less(t, time.Since(start), 400*time.Millisecond)

	require.NoError(t, <-refreshed)
	require.Len(t, r.Roster(), 4)
}

func TestRunner_RefreshesRunInTurn(t *testing.T) {
	r, _ := newRunner(t, testConfig(), nil)

	raw := []byte(`{"reqId":1,"identifier":"Steward1","protocolVersion":2,"operation":{"type":"0","dest":"dest-Node5","data":{"alias":"Node5","client_ip":"127.0.0.1","client_port":9710,"services":["VALIDATOR"]}}}`)
	require.NoError(t, pool.SubmitRequest(context.Background(), r, raw, nil).Err)

	type result struct {
		changed bool
		err     error
	}
	var wg sync.WaitGroup
	results := make(chan result, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := r.Refresh(context.Background())
			results <- result{changed, err}
		}()
	}
	wg.Wait()
	close(results)

	// only the first refresh finds the new node
	changes := 0
	for res := range results {
		require.NoError(t, res.err)
		if res.changed {
			changes++
		}
	}
	require.Equal(t, 1, changes)
	require.Len(t, r.Roster(), 5)
	require.Len(t, r.Transactions(), 5)
	require.Equal(t, 0, r.Pending())
}

func TestRunner_StopCancelsRefresh(t *testing.T) {
	r, _ := newRunner(t, testConfig(), silent)

	refreshed := make(chan error, 1)
	go func() {
		_, err := r.Refresh(context.Background())
		refreshed <- err
	}()
	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Stop())

	select {
	case err := <-refreshed:
		require.True(t, errors.Is(err, poolerr.ErrCancelled))
	case <-time.After(time.Second):
		t.Fatal("refresh left unresolved")
	}
}
