package pool

import (
	"context"

	"github.com/vadiminshakov/ledgerpool/config"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/transport"
)

// Local is a pool confined to the goroutine that created it. Nothing in it is
// synchronized; clones share state and must stay on the same goroutine.
type Local struct {
	*state
	inner *localInner
}

type localInner struct {
	store   *genesis.Store
	pending map[string]dto.OutboundRequest
	closed  bool
}

// NewLocal creates an affine pool. The transport is created with the Local discipline.
func NewLocal(cfg config.PoolConfig, store *genesis.Store, tf transport.Factory, opts ...Option) (*Local, error) {
	s, err := newState(cfg, store, tf, transport.Local, opts)
	if err != nil {
		return nil, err
	}
	return &Local{
		state: s,
		inner: &localInner{store: store, pending: make(map[string]dto.OutboundRequest)},
	}, nil
}

// Clone returns another handle to the same pool.
func (l *Local) Clone() *Local {
	return &Local{state: l.state, inner: l.inner}
}

func (l *Local) snapshot() *genesis.Store { return l.inner.store }
func (l *Local) swap(next *genesis.Store) { l.inner.store = next }
func (l *Local) untrack(id string)        { delete(l.inner.pending, id) }

func (l *Local) track(req dto.OutboundRequest) bool {
	if l.inner.closed {
		return false
	}
	l.inner.pending[req.ID] = req
	return true
}

// Store returns the current roster snapshot.
func (l *Local) Store() *genesis.Store { return l.inner.store }

func (l *Local) Roster() []genesis.Node { return l.inner.store.Roster() }
func (l *Local) Transactions() []string { return l.inner.store.Transactions() }
func (l *Local) RootHash() []byte       { return l.inner.store.RootHash() }
func (l *Local) Pending() int           { return len(l.inner.pending) }

func (l *Local) Submit(ctx context.Context, req dto.OutboundRequest) dto.Outcome[string] {
	return l.submit(ctx, l, req)
}

func (l *Local) SubmitFull(ctx context.Context, req dto.OutboundRequest) dto.Outcome[map[string]string] {
	return l.submitFull(ctx, l, req)
}

func (l *Local) Refresh(ctx context.Context) (bool, error) {
	return l.refresh(ctx, l)
}

// Close releases the transport. Clones are closed too.
func (l *Local) Close() error {
	if l.inner.closed {
		return nil
	}
	l.inner.closed = true
	return l.closeTransport()
}

// Track and Untrack let an owner that drives rounds itself keep Pending accurate.
func (l *Local) Track(req dto.OutboundRequest) bool { return l.track(req) }
func (l *Local) Untrack(id string)                  { l.untrack(id) }

// Install replaces the roster snapshot.
func (l *Local) Install(next *genesis.Store) { l.swap(next) }

// Extend validates, persists and returns the store extended with txns, without
// installing it.
func (l *Local) Extend(txns []string) (*genesis.Store, error) {
	return l.extend(l.inner.store, txns)
}
