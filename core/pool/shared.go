package pool

import (
	"context"
	"sync"

	"github.com/vadiminshakov/ledgerpool/config"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/transport"
)

// Shared is a pool safe for concurrent use. Locks guard only the snapshot pointer
// and the pending set; none is held while a request is in flight.
type Shared struct {
	*state

	mu    sync.RWMutex
	store *genesis.Store

	pmu     sync.Mutex
	pending map[string]dto.OutboundRequest
	closed  bool

	refreshMu sync.Mutex
}

// NewShared creates a pool for concurrent use. The transport is created with the
// Shared discipline.
func NewShared(cfg config.PoolConfig, store *genesis.Store, tf transport.Factory, opts ...Option) (*Shared, error) {
	s, err := newState(cfg, store, tf, transport.Shared, opts)
	if err != nil {
		return nil, err
	}
	return &Shared{state: s, store: store, pending: make(map[string]dto.OutboundRequest)}, nil
}

func (p *Shared) snapshot() *genesis.Store {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store
}

func (p *Shared) swap(next *genesis.Store) {
	p.mu.Lock()
	p.store = next
	p.mu.Unlock()
}

func (p *Shared) track(req dto.OutboundRequest) bool {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	if p.closed {
		return false
	}
	p.pending[req.ID] = req
	return true
}

func (p *Shared) untrack(id string) {
	p.pmu.Lock()
	delete(p.pending, id)
	p.pmu.Unlock()
}

func (p *Shared) Roster() []genesis.Node { return p.snapshot().Roster() }
func (p *Shared) Transactions() []string { return p.snapshot().Transactions() }
func (p *Shared) RootHash() []byte       { return p.snapshot().RootHash() }

func (p *Shared) Pending() int {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	return len(p.pending)
}

func (p *Shared) Submit(ctx context.Context, req dto.OutboundRequest) dto.Outcome[string] {
	return p.submit(ctx, p, req)
}

func (p *Shared) SubmitFull(ctx context.Context, req dto.OutboundRequest) dto.Outcome[map[string]string] {
	return p.submitFull(ctx, p, req)
}

// Refresh is serialized with other refreshes; submissions continue meanwhile.
func (p *Shared) Refresh(ctx context.Context) (bool, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	return p.refresh(ctx, p)
}

func (p *Shared) Close() error {
	p.pmu.Lock()
	if p.closed {
		p.pmu.Unlock()
		return nil
	}
	p.closed = true
	p.pmu.Unlock()
	return p.closeTransport()
}
