// Package genesis turns an ordered list of pool (NODE) transactions into a verified
// validator roster.
//
// Transactions are hashed into an append-only RFC 6962 tree whose root is the trust
// anchor of a pool. A Store is immutable: Extend returns a new Store, so a roster
// snapshot handed to an in-flight request never changes underneath it.
package genesis

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/vadiminshakov/ledgerpool/core/poolerr"
	"github.com/vmihailenco/msgpack/v5"
)

// NodeTxnType is the ledger type code of a NODE transaction.
const NodeTxnType = "0"

// ServiceValidator marks a node that takes part in consensus.
const ServiceValidator = "VALIDATOR"

// Node describes one validator derived from the pool transactions.
type Node struct {
	ID          string // node alias
	Dest        string // verification key
	Address     string // client endpoint, host:port
	NodeAddress string // node-to-node endpoint, host:port
	BLSKey      string
	Services    []string
}

// IsValidator reports whether the node advertises the validator service.
func (n Node) IsValidator() bool {
	for _, s := range n.Services {
		if s == ServiceValidator {
			return true
		}
	}
	return false
}

type nodeData struct {
	Alias      string    `json:"alias"`
	ClientIP   string    `json:"client_ip"`
	ClientPort int       `json:"client_port"`
	NodeIP     string    `json:"node_ip"`
	NodePort   int       `json:"node_port"`
	BLSKey     string    `json:"blskey"`
	Services   *[]string `json:"services"`
}

type nodeTxnBody struct {
	Type string `json:"type"`
	Data struct {
		Dest string   `json:"dest"`
		Data nodeData `json:"data"`
	} `json:"data"`
}

// wire layout of a protocol v2 pool transaction
type nodeTxnV2 struct {
	Txn nodeTxnBody `json:"txn"`
}

// wire layout of a protocol v1 pool transaction
type nodeTxnV1 struct {
	Type string   `json:"type"`
	Dest string   `json:"dest"`
	Data nodeData `json:"data"`
}

type nodeTxn struct {
	dest string
	data nodeData
}

func parseNodeTxn(txn string) (nodeTxn, error) {
	var v2 nodeTxnV2
	if err := json.Unmarshal([]byte(txn), &v2); err != nil {
		return nodeTxn{}, poolerr.Wrap(poolerr.KindConfig, err, "invalid genesis transaction")
	}
	parsed := nodeTxn{dest: v2.Txn.Data.Dest, data: v2.Txn.Data.Data}
	typ := v2.Txn.Type
	if typ == "" {
		var v1 nodeTxnV1
		if err := json.Unmarshal([]byte(txn), &v1); err != nil {
			return nodeTxn{}, poolerr.Wrap(poolerr.KindConfig, err, "invalid genesis transaction")
		}
		parsed = nodeTxn{dest: v1.Dest, data: v1.Data}
		typ = v1.Type
	}
	if typ != NodeTxnType {
		return nodeTxn{}, poolerr.Newf(poolerr.KindConfig, "genesis transaction has type %q, expected NODE", typ)
	}
	if parsed.dest == "" {
		return nodeTxn{}, poolerr.Config("genesis transaction has no dest")
	}
	return parsed, nil
}

// LeafData returns the canonical bytes hashed into the tree for a transaction:
// the msgpack encoding of its JSON value with sorted map keys.
func LeafData(txn string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(txn)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, poolerr.Wrap(poolerr.KindConfig, err, "invalid transaction json")
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(normalize(v)); err != nil {
		return nil, poolerr.Wrap(poolerr.KindConfig, err, "encode transaction")
	}
	return buf.Bytes(), nil
}

// normalize keeps integral JSON numbers integral.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		for k, e := range t {
			t[k] = normalize(e)
		}
	case []interface{}:
		for i, e := range t {
			t[i] = normalize(e)
		}
	}
	return v
}

// Store is an immutable, verified list of pool transactions.
type Store struct {
	txns    []string
	records []nodeTxn
	leaves  [][]byte
	root    []byte
	roster  []Node
}

// Build parses and hashes txns. An empty list is a config error.
func Build(txns []string) (*Store, error) {
	if len(txns) == 0 {
		return nil, poolerr.Config("no genesis transactions")
	}
	return (&Store{}).extend(txns)
}

// Extend returns a new Store with txns appended. The receiver is left unchanged.
func (s *Store) Extend(txns []string) (*Store, error) {
	if len(s.txns)+len(txns) == 0 {
		return nil, poolerr.Config("no genesis transactions")
	}
	return s.extend(txns)
}

func (s *Store) extend(txns []string) (*Store, error) {
	next := &Store{
		txns:    make([]string, len(s.txns), len(s.txns)+len(txns)),
		records: make([]nodeTxn, len(s.records), len(s.records)+len(txns)),
		leaves:  make([][]byte, len(s.leaves), len(s.leaves)+len(txns)),
	}
	copy(next.txns, s.txns)
	copy(next.records, s.records)
	copy(next.leaves, s.leaves)

	for i, txn := range txns {
		rec, err := parseNodeTxn(txn)
		if err != nil {
			return nil, poolerr.Wrap(poolerr.KindConfig, err, fmt.Sprintf("transaction %d", len(s.txns)+i+1))
		}
		data, err := LeafData(txn)
		if err != nil {
			return nil, err
		}
		next.txns = append(next.txns, txn)
		next.records = append(next.records, rec)
		next.leaves = append(next.leaves, LeafHash(data))
	}

	roster, err := buildRoster(next.records)
	if err != nil {
		return nil, err
	}
	next.roster = roster
	next.root = rootOf(next.leaves)
	return next, nil
}

// buildRoster replays node transactions in order; later records for the same
// dest update that node, an explicit empty service list removes it.
func buildRoster(records []nodeTxn) ([]Node, error) {
	var (
		order []string
		nodes = make(map[string]*Node)
	)
	for i, rec := range records {
		n, ok := nodes[rec.dest]
		if !ok {
			if rec.data.Alias == "" || rec.data.ClientIP == "" || rec.data.ClientPort == 0 {
				return nil, poolerr.Newf(poolerr.KindConfig, "transaction %d: new node %s lacks alias or client address", i+1, rec.dest)
			}
			n = &Node{Dest: rec.dest, Services: []string{ServiceValidator}}
			nodes[rec.dest] = n
			order = append(order, rec.dest)
		}
		d := rec.data
		if d.Alias != "" {
			n.ID = d.Alias
		}
		if d.ClientIP != "" && d.ClientPort != 0 {
			n.Address = net.JoinHostPort(d.ClientIP, strconv.Itoa(d.ClientPort))
		}
		if d.NodeIP != "" && d.NodePort != 0 {
			n.NodeAddress = net.JoinHostPort(d.NodeIP, strconv.Itoa(d.NodePort))
		}
		if d.BLSKey != "" {
			n.BLSKey = d.BLSKey
		}
		if d.Services != nil {
			n.Services = append([]string(nil), (*d.Services)...)
		}
	}

	roster := make([]Node, 0, len(order))
	for _, dest := range order {
		if n := nodes[dest]; len(n.Services) > 0 {
			roster = append(roster, *n)
		}
	}
	return roster, nil
}

// Roster returns the nodes in first-seen order.
func (s *Store) Roster() []Node {
	out := make([]Node, len(s.roster))
	copy(out, s.roster)
	return out
}

// Transactions returns the transactions in ledger order.
func (s *Store) Transactions() []string {
	out := make([]string, len(s.txns))
	copy(out, s.txns)
	return out
}

// Len is the number of transactions (the pool ledger size).
func (s *Store) Len() int { return len(s.txns) }

// RootHash is the tree head over all transactions.
func (s *Store) RootHash() []byte {
	out := make([]byte, len(s.root))
	copy(out, s.root)
	return out
}

func (s *Store) RootHashHex() string { return hex.EncodeToString(s.root) }

// AuditPath returns the inclusion proof of transaction index (0-based).
func (s *Store) AuditPath(index int) ([][]byte, error) {
	if index < 0 || index >= len(s.leaves) {
		return nil, poolerr.Newf(poolerr.KindRequest, "no transaction at index %d", index)
	}
	return pathOf(index, s.leaves), nil
}
