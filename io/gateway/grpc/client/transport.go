package client

import (
	"context"
	"sync"

	"github.com/openzipkin/zipkin-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/transport"
)

var errClosed = errors.New("transport closed")

// Transport exchanges requests with validator nodes over gRPC. Connections are
// dialed on first use and replaced when a node's address changes.
type Transport struct {
	tracer  *zipkin.Tracer
	mu      sync.Locker
	clients map[string]*NodeClient
	closed  bool
}

// NewTransport creates a transport. Shared transports guard the connection cache
// with a mutex, local ones are confined to the goroutine of their pool.
func NewTransport(d transport.Discipline, tracer *zipkin.Tracer) *Transport {
	var mu sync.Locker = noLock{}
	if d == transport.Shared {
		mu = &sync.Mutex{}
	}
	return &Transport{tracer: tracer, mu: mu, clients: make(map[string]*NodeClient)}
}

// Factory returns a transport factory for pools talking gRPC.
func Factory(tracer *zipkin.Tracer) transport.Factory {
	return func(d transport.Discipline) transport.Transport { return NewTransport(d, tracer) }
}

func (t *Transport) client(node genesis.Node) (*NodeClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errClosed
	}
	if c, ok := t.clients[node.ID]; ok {
		if c.Addr == node.Address {
			return c, nil
		}
		log.Debugf("node %s moved from %s to %s", node.ID, c.Addr, node.Address)
		if err := c.Close(); err != nil {
			log.Warnf("failed to close connection to %s: %s", c.Addr, err)
		}
		delete(t.clients, node.ID)
	}

	c, err := New(node.Address, t.tracer)
	if err != nil {
		return nil, err
	}
	t.clients[node.ID] = c
	return c, nil
}

func (t *Transport) Send(ctx context.Context, node genesis.Node, payload []byte) (transport.Handle, error) {
	c, err := t.client(node)
	if err != nil {
		return nil, transport.ConnectionError(node.ID, err)
	}

	h := transport.NewBasicHandle(node.ID)
	go func() {
		reply, err := c.Submit(ctx, payload)
		h.Replies <- transport.Result{Payload: reply, Err: err}
	}()
	return h, nil
}

func (t *Transport) AwaitReply(ctx context.Context, h transport.Handle) (dto.NodeReply, error) {
	bh, ok := h.(*transport.BasicHandle)
	if !ok {
		return dto.NodeReply{}, transport.ConnectionError(h.Node(), errors.New("foreign handle"))
	}
	return bh.Await(ctx)
}

// Close closes every connection. Exchanges in flight fail with a connection error.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	var first error
	for id, c := range t.clients {
		if err := c.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close connection to %s", id)
		}
	}
	t.clients = nil
	return first
}

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}
