// Package pool holds the roster, configuration and transport of one ledger pool and
// submits requests to it through the consensus engine.
//
// Local and Shared expose the same operations over one state core and differ only
// in how they guard the mutable part (roster snapshot, pending requests). A Local
// pool and its clones belong to one goroutine. A Shared pool may be used from any
// number of goroutines.
package pool

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/ledgerpool/config"
	"github.com/vadiminshakov/ledgerpool/core/consensus"
	"github.com/vadiminshakov/ledgerpool/core/consensus/hooks"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
	"github.com/vadiminshakov/ledgerpool/core/request"
	"github.com/vadiminshakov/ledgerpool/core/transport"
	"golang.org/x/sync/semaphore"
)

// Pool is implemented by Local, Shared and the runner.
type Pool interface {
	Config() config.PoolConfig
	Roster() []genesis.Node
	Transactions() []string
	RootHash() []byte
	Builder() *request.Builder
	// Submit runs req to a quorum decision.
	Submit(ctx context.Context, req dto.OutboundRequest) dto.Outcome[string]
	// SubmitFull gathers the reply of every dispatched node.
	SubmitFull(ctx context.Context, req dto.OutboundRequest) dto.Outcome[map[string]string]
	// Refresh fetches pool ledger transactions past the current roster and swaps
	// in the extended roster. It reports whether anything changed.
	Refresh(ctx context.Context) (bool, error)
	Pending() int
	Close() error
}

// TxnCache persists verified pool ledger transactions between runs.
//
//go:generate mockgen -destination=../../mocks/mock_txn_cache.go -package=mocks . TxnCache
type TxnCache interface {
	SaveTransactions(txns []string) error
	LoadTransactions() ([]string, error)
}

type options struct {
	transport transport.Transport
	cache     TxnCache
	hooks     []hooks.Hook
}

type Option func(*options)

// WithTransport reuses an existing transport and its open connections instead
// of creating one from the factory. The pool does not close a transport it was
// given; that is up to its owner.
func WithTransport(tr transport.Transport) Option {
	return func(o *options) { o.transport = tr }
}

// WithCache stores refreshed pool transactions in c.
func WithCache(c TxnCache) Option {
	return func(o *options) { o.cache = c }
}

// WithHooks replaces the default engine hooks.
func WithHooks(hs ...hooks.Hook) Option {
	return func(o *options) { o.hooks = append(o.hooks, hs...) }
}

// state is the part of a pool that never changes after construction.
type state struct {
	cfg       config.PoolConfig
	engine    *consensus.Engine
	transport transport.Transport
	ownsConn  bool
	builder   *request.Builder
	sem       *semaphore.Weighted
	cache     TxnCache
}

func newState(cfg config.PoolConfig, store *genesis.Store, tf transport.Factory, d transport.Discipline, opts []Option) (*state, error) {
	if store == nil {
		return nil, poolerr.Config("pool requires genesis transactions")
	}
	if err := cfg.ValidateRoster(len(store.Roster())); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	tr, owned := o.transport, false
	if tr == nil {
		if tf == nil {
			return nil, poolerr.Config("no transport factory")
		}
		tr, owned = tf(d), true
	}

	return &state{
		cfg:       cfg,
		engine:    consensus.New(tr, consensus.Params{Quorum: cfg.Quorum, Fanout: cfg.RequestFanout, Timeout: cfg.RequestTimeout}, o.hooks...),
		transport: tr,
		ownsConn:  owned,
		builder:   request.NewBuilder(dto.ProtocolVersion(cfg.ProtocolVersion), ""),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		cache:     o.cache,
	}, nil
}

func (s *state) Config() config.PoolConfig { return s.cfg }
func (s *state) Builder() *request.Builder { return s.builder }
func (s *state) Engine() *consensus.Engine { return s.engine }

// closeTransport closes the transport if the pool created it.
func (s *state) closeTransport() error {
	if !s.ownsConn {
		return nil
	}
	return s.transport.Close()
}

// holder is the guarded part of a pool.
type holder interface {
	snapshot() *genesis.Store
	swap(next *genesis.Store)
	track(req dto.OutboundRequest) bool
	untrack(id string)
}

func failed[T any](err error) dto.Outcome[T] {
	return dto.Outcome[T]{Err: err, Timing: dto.TimingResult{}}
}

var errClosed = poolerr.New(poolerr.KindCancelled, "pool is closed")

func perform[T any](ctx context.Context, s *state, h holder, req dto.OutboundRequest, judge consensus.Judge[T]) dto.Outcome[T] {
	if err := ctx.Err(); err != nil {
		return failed[T](poolerr.FromContext(err))
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return failed[T](poolerr.FromContext(err))
	}
	defer s.sem.Release(1)

	if !h.track(req) {
		return failed[T](errClosed)
	}
	defer h.untrack(req.ID)

	// the round keeps this roster even if a refresh lands meanwhile
	snap := h.snapshot()
	return consensus.Perform(ctx, s.engine, req, snap.Roster(), judge)
}

func (s *state) submit(ctx context.Context, h holder, req dto.OutboundRequest) dto.Outcome[string] {
	return perform(ctx, s, h, req, consensus.Quorum(consensus.ReplyDecoder()))
}

func (s *state) submitFull(ctx context.Context, h holder, req dto.OutboundRequest) dto.Outcome[map[string]string] {
	return perform(ctx, s, h, req, consensus.CollectAll(consensus.ReplyDecoder()))
}

// refresh reads POOL ledger transactions following the ones already known until
// the ledger reports no more, then installs the extended roster.
func (s *state) refresh(ctx context.Context, h holder) (bool, error) {
	current := h.snapshot()
	fetched, err := s.fetchPoolTxns(ctx, func(req dto.OutboundRequest) dto.Outcome[string] {
		return s.submit(ctx, h, req)
	}, current.Len())
	if err != nil {
		return false, err
	}
	if len(fetched) == 0 {
		return false, nil
	}

	next, err := s.extend(current, fetched)
	if err != nil {
		return false, err
	}
	h.swap(next)
	return true, nil
}

// fetchPoolTxns asks the pool for transactions known+1, known+2, ... until a
// reply carries no transaction.
func (s *state) fetchPoolTxns(ctx context.Context, submit func(dto.OutboundRequest) dto.Outcome[string], known int) ([]string, error) {
	var fetched []string
	for seqNo := known + 1; ; seqNo++ {
		if err := ctx.Err(); err != nil {
			return nil, poolerr.FromContext(err)
		}
		req, err := s.builder.GetTxn(dto.LedgerPool, seqNo)
		if err != nil {
			return nil, err
		}
		out := submit(req)
		if out.Failed() {
			return nil, errors.Wrapf(out.Err, "fetch pool transaction %d", seqNo)
		}
		txn, ok, err := TxnFromReply(out.Value)
		if err != nil {
			return nil, err
		}
		if !ok {
			return fetched, nil
		}
		fetched = append(fetched, txn)
	}
}

// extend builds the next roster and persists it. A roster too small for the
// configured quorum is rejected.
func (s *state) extend(current *genesis.Store, txns []string) (*genesis.Store, error) {
	next, err := current.Extend(txns)
	if err != nil {
		return nil, err
	}
	if err := s.cfg.ValidateRoster(len(next.Roster())); err != nil {
		return nil, errors.Wrap(err, "refreshed roster")
	}
	if s.cache != nil {
		if err := s.cache.SaveTransactions(next.Transactions()); err != nil {
			return nil, poolerr.Wrap(poolerr.KindConfig, err, "cache pool transactions")
		}
	}
	return next, nil
}
