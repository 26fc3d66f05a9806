// Package runner owns a Local pool on a dedicated goroutine and lets any number of
// goroutines submit requests to it.
//
// Rounds for different requests run side by side: the owner goroutine starts them,
// routes reply events to them by round id and resolves the caller's Future when a
// round decides. Stop resolves every outstanding Future with a Cancelled outcome.
package runner

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/ledgerpool/config"
	"github.com/vadiminshakov/ledgerpool/core/consensus"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/pool"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
	"github.com/vadiminshakov/ledgerpool/core/request"
)

var errStopped = poolerr.New(poolerr.KindCancelled, "runner stopped")

// Future is the pending outcome of a submitted request. It resolves exactly once.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	out  dto.Outcome[T]
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(out dto.Outcome[T]) {
	f.once.Do(func() {
		f.out = out
		close(f.done)
	})
}

// Done is closed once the outcome is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Outcome blocks until the future resolves.
func (f *Future[T]) Outcome() dto.Outcome[T] {
	<-f.done
	return f.out
}

// Wait is Outcome bounded by ctx. Giving up on the wait does not cancel the request.
func (f *Future[T]) Wait(ctx context.Context) dto.Outcome[T] {
	select {
	case <-f.done:
		return f.out
	case <-ctx.Done():
		return dto.Outcome[T]{Err: poolerr.FromContext(ctx.Err()), Timing: dto.TimingResult{}}
	}
}

// command is executed on the owner goroutine, or cancelled if the runner stops first.
type command interface {
	run(r *Runner)
	cancel(err error)
}

type roundHandle interface {
	Handle(ev consensus.Event) bool
	Abort(cause error)
}

type abortEvent struct {
	round uint64
	cause error
}

// Runner drives a Local pool from its own goroutine.
type Runner struct {
	pool    *pool.Local
	cfg     config.PoolConfig
	builder *request.Builder

	cmds   chan command
	events chan consensus.Event
	aborts chan abortEvent

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	closeErr error

	store   atomic.Pointer[genesis.Store]
	pending atomic.Int64

	// owned by the loop goroutine
	nextID     uint64
	rounds     map[uint64]roundHandle
	unwatch    map[uint64]func() bool
	queue      []command
	inflight   int
	refreshing bool
	refreshes  []*refreshCmd
}

// New starts a runner that takes ownership of p. The caller must not use p afterwards.
func New(p *pool.Local) *Runner {
	r := &Runner{
		pool:    p,
		cfg:     p.Config(),
		builder: p.Builder(),
		cmds:    make(chan command),
		events:  make(chan consensus.Event),
		aborts:  make(chan abortEvent),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		rounds:  make(map[uint64]roundHandle),
		unwatch: make(map[uint64]func() bool),
	}
	r.store.Store(p.Store())
	go r.loop()
	return r
}

func (r *Runner) loop() {
	defer close(r.done)
	for {
		select {
		case cmd := <-r.cmds:
			r.admit(cmd)
		case ev := <-r.events:
			if rd, ok := r.rounds[ev.Round]; ok {
				rd.Handle(ev)
			}
		case a := <-r.aborts:
			if rd, ok := r.rounds[a.round]; ok {
				rd.Abort(a.cause)
			}
		case <-r.stop:
			r.shutdown()
			return
		}
		r.pending.Store(int64(r.pool.Pending()))
	}
}

// admit runs cmd now or queues it when the concurrency limit is reached.
func (r *Runner) admit(cmd command) {
	if _, isRound := cmd.(roundStarter); isRound && r.inflight >= r.cfg.MaxConcurrentRequests {
		r.queue = append(r.queue, cmd)
		return
	}
	cmd.run(r)
}

func (r *Runner) shutdown() {
	for _, rd := range r.rounds {
		rd.Abort(errStopped)
	}
	for _, cmd := range r.queue {
		cmd.cancel(errStopped)
	}
	r.queue = nil
	for _, cmd := range r.refreshes {
		cmd.cancel(errStopped)
	}
	r.refreshes = nil
	r.pending.Store(0)
	r.closeErr = r.pool.Close()
	log.Infof("runner stopped")
}

// roundStarter marks commands that occupy a round slot.
type roundStarter interface{ startsRound() }

type call[T any] struct {
	ctx   context.Context
	req   dto.OutboundRequest
	judge func() consensus.Judge[T]
	fut   *Future[T]
}

func (c *call[T]) startsRound() {}

func (c *call[T]) cancel(err error) {
	c.fut.resolve(dto.Outcome[T]{Err: err, Timing: dto.TimingResult{}})
}

func (c *call[T]) run(r *Runner) {
	if err := c.ctx.Err(); err != nil {
		c.cancel(poolerr.FromContext(err))
		return
	}
	if !r.pool.Track(c.req) {
		c.cancel(errStopped)
		return
	}

	r.nextID++
	id := r.nextID
	r.inflight++
	rd := consensus.Start(c.ctx, r.pool.Engine(), c.req, r.pool.Store().Roster(), c.judge(), consensus.RoundOptions[T]{
		ID:   id,
		Sink: r.events,
		OnDone: func(out dto.Outcome[T]) {
			r.finish(id, c.req.ID)
			c.fut.resolve(out)
		},
	})
	if rd.Done() {
		return
	}
	r.watch(c.ctx, id, rd)
}

// watch routes events to rd and aborts it when ctx ends.
func (r *Runner) watch(ctx context.Context, id uint64, rd roundHandle) {
	r.rounds[id] = rd
	r.unwatch[id] = context.AfterFunc(ctx, func() {
		select {
		case r.aborts <- abortEvent{round: id, cause: ctx.Err()}:
		case <-r.done:
		}
	})
}

func (r *Runner) forget(id uint64) {
	delete(r.rounds, id)
	if stop, ok := r.unwatch[id]; ok {
		stop()
		delete(r.unwatch, id)
	}
}

// finish releases the slot of a decided round and starts queued work.
func (r *Runner) finish(id uint64, reqID string) {
	r.forget(id)
	r.pool.Untrack(reqID)
	r.inflight--

	select {
	case <-r.stop:
		return
	default:
	}
	for len(r.queue) > 0 && r.inflight < r.cfg.MaxConcurrentRequests {
		next := r.queue[0]
		r.queue = r.queue[1:]
		next.run(r)
	}
}

type refreshResult struct {
	changed bool
	err     error
}

// refreshCmd reads POOL ledger transactions past the current roster one GET_TXN
// round at a time. The rounds run on the event loop like any other, so requests
// already in flight keep their deadlines. Refreshes run one after another.
type refreshCmd struct {
	ctx     context.Context
	res     chan refreshResult
	seqNo   int
	fetched []string
}

func (c *refreshCmd) cancel(err error) { c.res <- refreshResult{err: err} }

func (c *refreshCmd) run(r *Runner) {
	if r.refreshing {
		r.refreshes = append(r.refreshes, c)
		return
	}
	r.refreshing = true
	c.seqNo = r.pool.Store().Len() + 1
	c.next(r)
}

// next starts the round for c.seqNo.
func (c *refreshCmd) next(r *Runner) {
	if err := c.ctx.Err(); err != nil {
		c.done(r, false, poolerr.FromContext(err))
		return
	}
	req, err := r.builder.GetTxn(dto.LedgerPool, c.seqNo)
	if err != nil {
		c.done(r, false, err)
		return
	}
	if !r.pool.Track(req) {
		c.done(r, false, errStopped)
		return
	}

	r.nextID++
	id := r.nextID
	rd := consensus.Start(c.ctx, r.pool.Engine(), req, r.pool.Store().Roster(), consensus.Quorum(consensus.ReplyDecoder()), consensus.RoundOptions[string]{
		ID:   id,
		Sink: r.events,
		OnDone: func(out dto.Outcome[string]) {
			r.forget(id)
			r.pool.Untrack(req.ID)
			c.received(r, out)
		},
	})
	if !rd.Done() {
		r.watch(c.ctx, id, rd)
	}
}

func (c *refreshCmd) received(r *Runner, out dto.Outcome[string]) {
	if out.Failed() {
		c.done(r, false, errors.Wrapf(out.Err, "fetch pool transaction %d", c.seqNo))
		return
	}
	txn, ok, err := pool.TxnFromReply(out.Value)
	if err != nil {
		c.done(r, false, err)
		return
	}
	if ok {
		c.fetched = append(c.fetched, txn)
		c.seqNo++
		c.next(r)
		return
	}
	if len(c.fetched) == 0 {
		c.done(r, false, nil)
		return
	}

	next, err := r.pool.Extend(c.fetched)
	if err != nil {
		c.done(r, false, err)
		return
	}
	r.pool.Install(next)
	r.store.Store(next)
	log.Infof("runner: roster refreshed with %d pool transactions", len(c.fetched))
	c.done(r, true, nil)
}

// done answers the caller and starts the next waiting refresh.
func (c *refreshCmd) done(r *Runner, changed bool, err error) {
	c.res <- refreshResult{changed: changed, err: err}
	r.refreshing = false

	select {
	case <-r.stop:
		return
	default:
	}
	if len(r.refreshes) > 0 {
		next := r.refreshes[0]
		r.refreshes = r.refreshes[1:]
		next.run(r)
	}
}

func (r *Runner) send(cmd command) {
	select {
	case r.cmds <- cmd:
	case <-r.done:
		cmd.cancel(errStopped)
	}
}

// SubmitAsync queues req for a quorum decision.
func (r *Runner) SubmitAsync(ctx context.Context, req dto.OutboundRequest) *Future[string] {
	fut := newFuture[string]()
	r.send(&call[string]{ctx: ctx, req: req, fut: fut, judge: func() consensus.Judge[string] {
		return consensus.Quorum(consensus.ReplyDecoder())
	}})
	return fut
}

// SubmitFullAsync queues req and collects the reply of every dispatched node.
func (r *Runner) SubmitFullAsync(ctx context.Context, req dto.OutboundRequest) *Future[map[string]string] {
	fut := newFuture[map[string]string]()
	r.send(&call[map[string]string]{ctx: ctx, req: req, fut: fut, judge: func() consensus.Judge[map[string]string] {
		return consensus.CollectAll(consensus.ReplyDecoder())
	}})
	return fut
}

func (r *Runner) Submit(ctx context.Context, req dto.OutboundRequest) dto.Outcome[string] {
	return r.SubmitAsync(ctx, req).Outcome()
}

func (r *Runner) SubmitFull(ctx context.Context, req dto.OutboundRequest) dto.Outcome[map[string]string] {
	return r.SubmitFullAsync(ctx, req).Outcome()
}

// Refresh extends the roster with pool ledger transactions the pool does not know
// yet. Other requests keep running while it does.
func (r *Runner) Refresh(ctx context.Context) (bool, error) {
	cmd := &refreshCmd{ctx: ctx, res: make(chan refreshResult, 1)}
	r.send(cmd)
	res := <-cmd.res
	return res.changed, res.err
}

func (r *Runner) Config() config.PoolConfig { return r.cfg }
func (r *Runner) Builder() *request.Builder { return r.builder }
func (r *Runner) Roster() []genesis.Node    { return r.store.Load().Roster() }
func (r *Runner) Transactions() []string    { return r.store.Load().Transactions() }
func (r *Runner) RootHash() []byte          { return r.store.Load().RootHash() }
func (r *Runner) Pending() int              { return int(r.pending.Load()) }

// Stop cancels outstanding requests, closes the pool and waits for the owner
// goroutine to exit. It is safe to call more than once.
func (r *Runner) Stop() error {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
	return r.closeErr
}

func (r *Runner) Close() error { return r.Stop() }

var _ pool.Pool = (*Runner)(nil)
