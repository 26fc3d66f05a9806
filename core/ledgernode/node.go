// Package ledgernode emulates a validator node: it answers ledger requests from
// its own ledgers and appends write requests to them. Nodes do not order writes
// among themselves.
package ledgernode

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/request"
)

// Node serves requests for one validator.
type Node struct {
	alias   string
	started time.Time

	mu      sync.Mutex
	ledgers map[dto.LedgerType]Ledger
	served  uint64
}

// New creates a node. Missing ledgers are created in memory.
func New(alias string, ledgers map[dto.LedgerType]Ledger) *Node {
	all := make(map[dto.LedgerType]Ledger, 3)
	for _, lt := range []dto.LedgerType{dto.LedgerPool, dto.LedgerDomain, dto.LedgerConfig} {
		if l, ok := ledgers[lt]; ok && l != nil {
			all[lt] = l
			continue
		}
		all[lt] = NewMemLedger()
	}
	return &Node{alias: alias, started: time.Now(), ledgers: all}
}

func (n *Node) Alias() string { return n.alias }

// Seed appends txns to the POOL ledger if it is empty.
func (n *Node) Seed(txns []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	pool := n.ledgers[dto.LedgerPool]
	if pool.Len() > 0 {
		return nil
	}
	for _, txn := range txns {
		if _, err := pool.Append(txn); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the node's ledgers.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var first error
	for _, l := range n.ledgers {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type incoming struct {
	ReqID      json.Number            `json:"reqId"`
	Identifier string                 `json:"identifier"`
	Endorser   string                 `json:"endorser"`
	Operation  map[string]interface{} `json:"operation"`
}

// Handle answers one serialized request. Requests the node cannot serve are
// answered with REQNACK; the error is reserved for failures of the node itself.
func (n *Node) Handle(payload []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var in incoming
	if err := dec.Decode(&in); err != nil || in.Operation == nil {
		return nack(in.ReqID, "malformed request")
	}
	opType, _ := in.Operation["type"].(string)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.served++

	var (
		result map[string]interface{}
		err    error
	)
	switch opType {
	case request.TypeGetTxn:
		result, err = n.getTxn(in.Operation)
	case request.TypeGetValidatorInfo:
		result = n.validatorInfo()
	case request.TypeGetTAA:
		result, err = n.latestConfig(request.TypeTxnAuthorAgrmt, in.Operation)
	case request.TypeGetAML:
		result, err = n.latestConfig(request.TypeAcceptanceMechs, in.Operation)
	case request.TypeGetNym:
		result, err = n.getNym(in.Operation)
	case "":
		return nack(in.ReqID, "operation type is missing")
	default:
		if request.IsRead(opType) {
			return nack(in.ReqID, fmt.Sprintf("unsupported operation type %s", opType))
		}
		result, err = n.write(opType, in)
	}
	var bad rejection
	if errors.As(err, &bad) {
		return nack(in.ReqID, string(bad))
	}
	if err != nil {
		log.Errorf("node %s: request %s: %v", n.alias, in.ReqID, err)
		return nil, err
	}

	result["type"] = opType
	result["reqId"] = in.ReqID
	if in.Identifier != "" {
		result["identifier"] = in.Identifier
	}
	result["state_proof"] = map[string]interface{}{
		"node":      n.alias,
		"timestamp": time.Now().Unix(),
	}
	return json.Marshal(map[string]interface{}{"op": "REPLY", "result": result})
}

// rejection is a problem with the request rather than the node.
type rejection string

func (r rejection) Error() string { return string(r) }

func nack(reqID json.Number, reason string) ([]byte, error) {
	msg := map[string]interface{}{"op": "REQNACK", "reason": reason}
	if reqID != "" {
		msg["reqId"] = reqID
	}
	return json.Marshal(msg)
}

func (n *Node) ledger(op map[string]interface{}) (dto.LedgerType, Ledger, error) {
	lt := dto.LedgerDomain
	if id, ok := op["ledgerId"].(json.Number); ok {
		v, err := id.Int64()
		if err != nil {
			return 0, nil, rejection("invalid ledger id")
		}
		lt = dto.LedgerType(v)
	}
	l, ok := n.ledgers[lt]
	if !ok {
		return 0, nil, rejection(fmt.Sprintf("unknown ledger %d", lt))
	}
	return lt, l, nil
}

func (n *Node) getTxn(op map[string]interface{}) (map[string]interface{}, error) {
	_, l, err := n.ledger(op)
	if err != nil {
		return nil, err
	}
	num, _ := op["data"].(json.Number)
	seqNo, err := num.Int64()
	if err != nil || seqNo <= 0 {
		return nil, rejection(fmt.Sprintf("invalid sequence number %q", num))
	}

	result := map[string]interface{}{"seqNo": seqNo, "data": nil}
	txn, ok, err := l.Get(int(seqNo))
	if err != nil {
		return nil, err
	}
	if !ok {
		return result, nil
	}

	leaves := make([][]byte, 0, l.Len())
	for i := 1; i <= l.Len(); i++ {
		t, _, err := l.Get(i)
		if err != nil {
			return nil, err
		}
		data, err := genesis.LeafData(t)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, genesis.LeafHash(data))
	}
	path := genesis.AuditPathOf(int(seqNo-1), leaves)
	hexPath := make([]string, 0, len(path))
	for _, h := range path {
		hexPath = append(hexPath, hex.EncodeToString(h))
	}

	result["data"] = json.RawMessage(txn)
	result["ledgerSize"] = len(leaves)
	result["rootHash"] = hex.EncodeToString(genesis.RootOfLeaves(leaves))
	result["auditPath"] = hexPath
	return result, nil
}

func (n *Node) validatorInfo() map[string]interface{} {
	sizes := make(map[string]int, len(n.ledgers))
	for lt, l := range n.ledgers {
		sizes[lt.String()] = l.Len()
	}
	return map[string]interface{}{
		"data": map[string]interface{}{
			"alias":   n.alias,
			"uptime":  int64(time.Since(n.started).Seconds()),
			"served":  n.served,
			"ledgers": sizes,
		},
	}
}

type storedTxn struct {
	Txn struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	} `json:"txn"`
	TxnMetadata struct {
		SeqNo int `json:"seqNo"`
	} `json:"txnMetadata"`
}

// latest returns the newest transaction of typ in l accepted by match.
func latest(l Ledger, typ string, match func(storedTxn) bool) (*storedTxn, error) {
	for i := l.Len(); i > 0; i-- {
		raw, _, err := l.Get(i)
		if err != nil {
			return nil, err
		}
		var t storedTxn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		if t.Txn.Type == typ && match(t) {
			return &t, nil
		}
	}
	return nil, nil
}

func (n *Node) latestConfig(typ string, op map[string]interface{}) (map[string]interface{}, error) {
	version, _ := op["version"].(string)
	t, err := latest(n.ledgers[dto.LedgerConfig], typ, func(t storedTxn) bool {
		return version == "" || t.Txn.Data["version"] == version
	})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return map[string]interface{}{"data": nil}, nil
	}
	return map[string]interface{}{"data": t.Txn.Data, "seqNo": t.TxnMetadata.SeqNo}, nil
}

func (n *Node) getNym(op map[string]interface{}) (map[string]interface{}, error) {
	dest, _ := op["dest"].(string)
	t, err := latest(n.ledgers[dto.LedgerDomain], request.TypeNym, func(t storedTxn) bool {
		return t.Txn.Data["dest"] == dest
	})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return map[string]interface{}{"dest": dest, "data": nil}, nil
	}
	return map[string]interface{}{"dest": dest, "data": t.Txn.Data, "seqNo": t.TxnMetadata.SeqNo}, nil
}

// write appends a write request to the ledger its type belongs to, in the
// layout pool transactions use.
func (n *Node) write(opType string, in incoming) (map[string]interface{}, error) {
	lt := dto.LedgerDomain
	switch opType {
	case request.TypeNode:
		lt = dto.LedgerPool
	case request.TypeTxnAuthorAgrmt, request.TypeAcceptanceMechs:
		lt = dto.LedgerConfig
	}
	l := n.ledgers[lt]

	data := make(map[string]interface{}, len(in.Operation))
	for k, v := range in.Operation {
		if k != "type" {
			data[k] = v
		}
	}
	from := in.Identifier
	if from == "" {
		from = in.Endorser
	}
	seqNo := l.Len() + 1
	txn := map[string]interface{}{
		"reqSignature": map[string]interface{}{},
		"txn": map[string]interface{}{
			"data":     data,
			"metadata": map[string]interface{}{"from": from, "reqId": in.ReqID},
			"type":     opType,
		},
		"txnMetadata": map[string]interface{}{"seqNo": seqNo},
		"ver":         "1",
	}
	raw, err := json.Marshal(txn)
	if err != nil {
		return nil, err
	}
	if _, err := l.Append(string(raw)); err != nil {
		return nil, err
	}

	log.Infof("node %s: appended %s transaction %d to %s ledger", n.alias, opType, seqNo, lt)
	return map[string]interface{}{"txn": txn["txn"], "txnMetadata": txn["txnMetadata"], "seqNo": seqNo}, nil
}
