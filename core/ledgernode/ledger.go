package ledgernode

import (
	"sync"

	"github.com/vadiminshakov/ledgerpool/core/poolerr"
)

// Ledger is an append-only list of transactions numbered from 1.
type Ledger interface {
	Append(txn string) (seqNo int, err error)
	// Get returns the transaction at seqNo; ok is false past the end.
	Get(seqNo int) (txn string, ok bool, err error)
	Len() int
	Close() error
}

// MemLedger keeps transactions in memory.
type MemLedger struct {
	mu   sync.RWMutex
	txns []string
}

func NewMemLedger(txns ...string) *MemLedger {
	return &MemLedger{txns: append([]string(nil), txns...)}
}

func (m *MemLedger) Append(txn string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txns = append(m.txns, txn)
	return len(m.txns), nil
}

func (m *MemLedger) Get(seqNo int) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if seqNo <= 0 {
		return "", false, poolerr.Newf(poolerr.KindRequest, "invalid sequence number %d", seqNo)
	}
	if seqNo > len(m.txns) {
		return "", false, nil
	}
	return m.txns[seqNo-1], true, nil
}

func (m *MemLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txns)
}

func (m *MemLedger) Close() error { return nil }
