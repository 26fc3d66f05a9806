// Package transport models the exchange of opaque messages with one validator node.
//
// The consensus engine depends only on Transport. Implementations live in
// io/gateway/grpc/client (network) and core/transport/memory (tests).
package transport

import (
	"context"
	"time"

	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
)

// Handle identifies one in-flight exchange started by Send.
type Handle interface {
	Node() string
	Sent() time.Time
}

// Transport sends requests to nodes and awaits their replies.
//
// Send must not block on network I/O: connections are opened lazily and the
// exchange continues in the background. AwaitReply blocks until the reply arrives,
// ctx is done (TimeoutError) or the exchange fails (ConnectionError). A failure for
// one node never affects handles of other nodes.
//
//go:generate mockgen -destination=../../mocks/mock_transport.go -package=mocks . Transport
type Transport interface {
	Send(ctx context.Context, node genesis.Node, payload []byte) (Handle, error)
	AwaitReply(ctx context.Context, h Handle) (dto.NodeReply, error)
	Close() error
}

// Discipline selects how a transport guards its connection cache.
type Discipline int

const (
	// Local transports are confined to the goroutine that owns the pool.
	Local Discipline = iota
	// Shared transports may be used from many goroutines at once.
	Shared
)

func (d Discipline) String() string {
	if d == Shared {
		return "shared"
	}
	return "local"
}

// Factory creates a transport for a pool with the given discipline.
type Factory func(Discipline) Transport

// ConnectionError reports a transport failure for node.
func ConnectionError(node string, err error) error {
	return poolerr.Wrap(poolerr.KindConnection, err, "node "+node)
}

// TimeoutError reports that node did not answer before the deadline.
func TimeoutError(node string) error {
	return poolerr.New(poolerr.KindTimeout, "node "+node+" did not reply in time")
}

// BasicHandle is a Handle usable by implementations.
type BasicHandle struct {
	NodeID  string
	SentAt  time.Time
	Replies chan Result
}

// Result is what an implementation delivers on a BasicHandle.
type Result struct {
	Payload []byte
	Err     error
}

func NewBasicHandle(node string) *BasicHandle {
	return &BasicHandle{NodeID: node, SentAt: time.Now(), Replies: make(chan Result, 1)}
}

func (h *BasicHandle) Node() string    { return h.NodeID }
func (h *BasicHandle) Sent() time.Time { return h.SentAt }

// Await waits for the result delivered on h.
func (h *BasicHandle) Await(ctx context.Context) (dto.NodeReply, error) {
	select {
	case res := <-h.Replies:
		if res.Err != nil {
			return dto.NodeReply{}, ConnectionError(h.NodeID, res.Err)
		}
		now := time.Now()
		return dto.NodeReply{
			Node:    h.NodeID,
			Payload: res.Payload,
			Arrived: now,
			Latency: now.Sub(h.SentAt),
		}, nil
	case <-ctx.Done():
		return dto.NodeReply{}, TimeoutError(h.NodeID)
	}
}
