// Package consensus dispatches one ledger request to several validator nodes and
// decides on the replies.
//
// A Round fans the request out, feeds replies to a Judge in arrival order and ends
// as soon as the judge decides, every dispatched node has resolved, or the deadline
// passes. Rounds are driven by events so that they can run inside a blocking
// Perform call or inside an event loop that owns many rounds at once.
package consensus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vadiminshakov/ledgerpool/core/consensus/hooks"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
	"github.com/vadiminshakov/ledgerpool/core/transport"
)

// Params are the agreement settings of an engine.
type Params struct {
	Quorum  int           // agreeing replies required
	Fanout  int           // nodes queried first by adaptive requests, 0 for all
	Timeout time.Duration // default request deadline
}

// Engine runs consensus rounds over one transport.
type Engine struct {
	transport transport.Transport
	params    Params
	hooks     *hooks.Registry
	offset    atomic.Uint64
}

// New creates an engine. Without hooks the default logging and metrics hooks are used.
func New(tr transport.Transport, params Params, customHooks ...hooks.Hook) *Engine {
	registry := hooks.NewRegistry()
	for _, hook := range customHooks {
		registry.Register(hook)
	}
	if len(customHooks) == 0 {
		registry.Register(hooks.NewDefaultHook())
		registry.Register(hooks.NewMetricsHook())
	}

	return &Engine{transport: tr, params: params, hooks: registry}
}

func (e *Engine) Params() Params { return e.params }

// plan picks the nodes dispatched first, the nodes held back for widening and the
// agreement threshold.
func (e *Engine) plan(req dto.OutboundRequest, roster []genesis.Node) (first, rest []genesis.Node, threshold int, err error) {
	if len(roster) == 0 {
		return nil, nil, 0, poolerr.Config("empty roster")
	}

	switch req.Target.Kind {
	case dto.TargetKindNode:
		for _, n := range roster {
			if n.ID == req.Target.Node {
				return []genesis.Node{n}, nil, 1, nil
			}
		}
		return nil, nil, 0, poolerr.Newf(poolerr.KindRequest, "unknown target node %q", req.Target.Node)
	case dto.TargetKindAll:
		return roster, nil, e.params.Quorum, nil
	}

	// adaptive: rotate the starting node so repeated requests spread the load
	n := len(roster)
	start := int(e.offset.Add(1)-1) % n
	ordered := make([]genesis.Node, 0, n)
	ordered = append(ordered, roster[start:]...)
	ordered = append(ordered, roster[:start]...)

	k := e.params.Fanout
	if k <= 0 || k > n {
		k = n
	}
	if k < e.params.Quorum {
		k = min(e.params.Quorum, n)
	}
	return ordered[:k], ordered[k:], e.params.Quorum, nil
}

// Event tells a round that one of its nodes resolved or that its deadline passed.
type Event struct {
	Round    uint64
	node     string
	reply    dto.NodeReply
	err      error
	deadline bool
}

// RoundOptions configure a round started with Start.
type RoundOptions[T any] struct {
	ID     uint64               // copied to every event of the round
	Sink   chan<- Event         // where the round's events are delivered
	OnDone func(dto.Outcome[T]) // called once, on the goroutine handling events
}

// Round is one request in flight. Its methods must be called from a single goroutine.
type Round[T any] struct {
	id      uint64
	engine  *Engine
	req     dto.OutboundRequest
	judge   Judge[T]
	sink    chan<- Event
	onDone  func(dto.Outcome[T])
	ctx     context.Context
	cancel  context.CancelFunc
	quit    chan struct{}
	timer   *time.Timer
	rest    []genesis.Node
	pending map[string]struct{}
	timing  dto.TimingResult
	done    bool
	outcome dto.Outcome[T]
}

// Start dispatches req and returns the running round. The round may already be
// done when Start returns (empty roster, unknown target, every send failed).
func Start[T any](ctx context.Context, e *Engine, req dto.OutboundRequest, roster []genesis.Node, judge Judge[T], opts RoundOptions[T]) *Round[T] {
	r := &Round[T]{
		id:      opts.ID,
		engine:  e,
		req:     req,
		judge:   judge,
		sink:    opts.Sink,
		onDone:  opts.OnDone,
		quit:    make(chan struct{}),
		pending: make(map[string]struct{}),
		timing:  make(dto.TimingResult),
	}
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	first, rest, threshold, err := e.plan(req, roster)
	if err != nil {
		var zero T
		r.finish(zero, err)
		return r
	}
	r.rest = rest
	judge.begin(threshold, len(first))

	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(e.params.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	r.timer = time.AfterFunc(time.Until(deadline), func() {
		r.post(Event{Round: r.id, deadline: true})
	})

	r.dispatch(first)
	return r
}

func (r *Round[T]) post(ev Event) {
	select {
	case r.sink <- ev:
	case <-r.quit:
	}
}

// dispatch sends to nodes on the calling goroutine and awaits replies in the
// background. Sends that fail right away are resolved before returning.
func (r *Round[T]) dispatch(nodes []genesis.Node) {
	var failed []Event
	for _, node := range nodes {
		r.pending[node.ID] = struct{}{}
		r.timing[node.ID] = dto.NoResponse

		h, err := r.engine.transport.Send(r.ctx, node, r.req.Payload)
		if err != nil {
			failed = append(failed, Event{Round: r.id, node: node.ID, err: err})
			continue
		}
		go func(h transport.Handle) {
			reply, err := r.engine.transport.AwaitReply(r.ctx, h)
			r.post(Event{Round: r.id, node: h.Node(), reply: reply, err: err})
		}(h)
	}
	for _, ev := range failed {
		if r.Handle(ev) {
			return
		}
	}
}

// Handle applies one event and reports whether the round is done.
func (r *Round[T]) Handle(ev Event) bool {
	if r.done {
		return true
	}
	if ev.deadline {
		v, err := r.judge.expired()
		r.finish(v, err)
		return true
	}
	if _, ok := r.pending[ev.node]; !ok {
		return false
	}
	delete(r.pending, ev.node)

	switch {
	case ev.err != nil:
		r.engine.hooks.ExecuteNodeError(&r.req, ev.node, ev.err)
	case !r.engine.hooks.ExecuteReply(&r.req, &ev.reply):
		r.timing[ev.node] = ev.reply.Latency
		r.engine.hooks.ExecuteNodeError(&r.req, ev.node, poolerr.Request("reply rejected by hook"))
	default:
		r.timing[ev.node] = ev.reply.Latency
		v, decided, err := r.judge.add(ev.node, ev.reply.Payload)
		if decided {
			r.finish(v, err)
			return true
		}
		if err != nil {
			r.engine.hooks.ExecuteNodeError(&r.req, ev.node, err)
		}
	}

	if len(r.pending) > 0 {
		return false
	}
	if r.widen() {
		return r.done
	}
	v, err := r.judge.exhausted()
	r.finish(v, err)
	return true
}

// widen dispatches held-back nodes when they could still complete a quorum.
func (r *Round[T]) widen() bool {
	need := r.judge.missing()
	if need <= 0 || need > len(r.rest) {
		return false
	}
	next := r.rest[:need]
	r.rest = r.rest[need:]
	r.dispatch(next)
	return true
}

// Abort ends the round because its caller went away. A passed deadline counts
// as a timeout, anything else as a cancellation.
func (r *Round[T]) Abort(cause error) {
	if r.done {
		return
	}
	if cause == context.DeadlineExceeded {
		v, err := r.judge.expired()
		r.finish(v, err)
		return
	}
	var zero T
	r.finish(zero, poolerr.Wrap(poolerr.KindCancelled, cause, "request cancelled"))
}

func (r *Round[T]) finish(v T, err error) {
	r.done = true
	if r.timer != nil {
		r.timer.Stop()
	}
	r.cancel()
	close(r.quit)

	r.outcome = dto.Outcome[T]{Value: v, Err: err, Timing: r.timing}
	r.engine.hooks.ExecuteDecision(&r.req, err, r.timing)
	if r.onDone != nil {
		r.onDone(r.outcome)
	}
}

func (r *Round[T]) ID() uint64                   { return r.id }
func (r *Round[T]) Done() bool                   { return r.done }
func (r *Round[T]) Outcome() dto.Outcome[T]      { return r.outcome }
func (r *Round[T]) Request() dto.OutboundRequest { return r.req }

// Perform runs one round to completion on the calling goroutine.
func Perform[T any](ctx context.Context, e *Engine, req dto.OutboundRequest, roster []genesis.Node, judge Judge[T]) dto.Outcome[T] {
	sink := make(chan Event)
	r := Start(ctx, e, req, roster, judge, RoundOptions[T]{Sink: sink})
	for !r.Done() {
		select {
		case ev := <-sink:
			r.Handle(ev)
		case <-ctx.Done():
			r.Abort(ctx.Err())
		}
	}
	return r.Outcome()
}
