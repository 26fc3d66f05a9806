// Package dto provides data transfer objects shared by the pool, the
// consensus engine and the transports.
package dto

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ProtocolVersion of the ledger request format.
type ProtocolVersion int

const (
	ProtocolV1 ProtocolVersion = 1
	ProtocolV2 ProtocolVersion = 2
)

// LedgerType identifies one of the ledgers a validator maintains.
type LedgerType int

const (
	LedgerPool   LedgerType = 0
	LedgerDomain LedgerType = 1
	LedgerConfig LedgerType = 2
)

func (l LedgerType) String() string {
	switch l {
	case LedgerPool:
		return "POOL"
	case LedgerDomain:
		return "DOMAIN"
	case LedgerConfig:
		return "CONFIG"
	}
	return fmt.Sprintf("LEDGER(%d)", int(l))
}

// TargetKind selects which roster nodes receive a request.
type TargetKind int

const (
	// TargetKindAdaptive queries a configured number of nodes and widens on disagreement.
	TargetKindAdaptive TargetKind = iota
	// TargetKindAll queries every roster node.
	TargetKindAll
	// TargetKindNode queries a single named node.
	TargetKindNode
)

// TargetPolicy is the node subset policy of an outbound request.
type TargetPolicy struct {
	Kind TargetKind
	Node string
}

func TargetAdaptive() TargetPolicy      { return TargetPolicy{Kind: TargetKindAdaptive} }
func TargetAll() TargetPolicy           { return TargetPolicy{Kind: TargetKindAll} }
func TargetNode(id string) TargetPolicy { return TargetPolicy{Kind: TargetKindNode, Node: id} }

// OutboundRequest is an already serialized ledger operation plus dispatch metadata.
type OutboundRequest struct {
	ID       string // correlation id
	ReqID    int64  // ledger request id embedded in Payload
	Type     string // ledger operation type code
	Payload  []byte
	Target   TargetPolicy
	Deadline time.Time // zero means use the pool timeout
	Read     bool
}

// NodeReply is one node's raw answer to one request.
type NodeReply struct {
	Node    string
	Payload []byte
	Arrived time.Time
	Latency time.Duration
}

// NoResponse marks a dispatched node that did not reply before the decision.
const NoResponse time.Duration = -1

// TimingResult maps node id to observed latency.
type TimingResult map[string]time.Duration

// Responded reports whether node replied in time.
func (t TimingResult) Responded(node string) bool {
	d, ok := t[node]
	return ok && d != NoResponse
}

func (t TimingResult) String() string {
	nodes := make([]string, 0, len(t))
	for n := range t {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if t[n] == NoResponse {
			parts = append(parts, fmt.Sprintf("%q: null", n))
			continue
		}
		parts = append(parts, fmt.Sprintf("%q: %.6f", n, t[n].Seconds()))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Outcome is the result of one consensus round: Reply when Err is nil, Failed otherwise.
type Outcome[T any] struct {
	Value  T
	Err    error
	Timing TimingResult
}

func (o Outcome[T]) Replied() bool { return o.Err == nil }
func (o Outcome[T]) Failed() bool  { return o.Err != nil }
