// Package memory is an in-process Transport whose nodes answer from scripted behaviours.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/transport"
)

// ErrUnreachable is returned by Send for nodes without a behaviour.
var ErrUnreachable = errors.New("node unreachable")

// Behavior answers one request for one node. Returning a nil reply and nil error
// means the node stays silent.
type Behavior func(payload []byte) (reply []byte, delay time.Duration, err error)

// Reply answers payload-independently with body after delay.
func Reply(body string, delay time.Duration) Behavior {
	return func([]byte) ([]byte, time.Duration, error) { return []byte(body), delay, nil }
}

// Serve answers with whatever handler returns for the payload.
func Serve(handler func(payload []byte) ([]byte, error)) Behavior {
	return func(payload []byte) ([]byte, time.Duration, error) {
		reply, err := handler(payload)
		return reply, 0, err
	}
}

// Silent never answers.
func Silent() Behavior {
	return func([]byte) ([]byte, time.Duration, error) { return nil, 0, nil }
}

// Fail answers with a connection failure after delay.
func Fail(err error, delay time.Duration) Behavior {
	return func([]byte) ([]byte, time.Duration, error) { return nil, delay, err }
}

// Network is a set of scripted nodes. It is safe for concurrent use.
type Network struct {
	mu        sync.Mutex
	behaviors map[string]Behavior
	sends     map[string]int
}

func NewNetwork() *Network {
	return &Network{behaviors: make(map[string]Behavior), sends: make(map[string]int)}
}

// Handle sets the behaviour of node.
func (n *Network) Handle(node string, b Behavior) *Network {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.behaviors[node] = b
	return n
}

// Sends returns how many requests node has received.
func (n *Network) Sends(node string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sends[node]
}

// TotalSends returns the number of requests sent to all nodes.
func (n *Network) TotalSends() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.sends {
		total += c
	}
	return total
}

// Factory returns a transport factory bound to this network. Every transport it
// creates can be closed independently.
func (n *Network) Factory() transport.Factory {
	return func(transport.Discipline) transport.Transport { return &conn{Network: n} }
}

type conn struct {
	*Network
	mu     sync.Mutex
	closed bool
}

func (c *conn) Send(ctx context.Context, node genesis.Node, payload []byte) (transport.Handle, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, transport.ConnectionError(node.ID, errors.New("transport closed"))
	}
	return c.Network.Send(ctx, node, payload)
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (n *Network) Send(ctx context.Context, node genesis.Node, payload []byte) (transport.Handle, error) {
	n.mu.Lock()
	b, ok := n.behaviors[node.ID]
	if ok {
		n.sends[node.ID]++
	}
	n.mu.Unlock()

	if !ok {
		return nil, transport.ConnectionError(node.ID, ErrUnreachable)
	}

	h := transport.NewBasicHandle(node.ID)
	go func() {
		reply, delay, err := b(payload)
		if reply == nil && err == nil {
			return
		}
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
		h.Replies <- transport.Result{Payload: reply, Err: err}
	}()
	return h, nil
}

func (n *Network) AwaitReply(ctx context.Context, h transport.Handle) (dto.NodeReply, error) {
	bh, ok := h.(*transport.BasicHandle)
	if !ok {
		return dto.NodeReply{}, transport.ConnectionError(h.Node(), errors.New("foreign handle"))
	}
	return bh.Await(ctx)
}

func (n *Network) Close() error { return nil }
