// Package ledger persists validator ledgers in a write-ahead log.
//
// Every transaction is one WAL entry whose index is its sequence number, so a
// ledger is rebuilt on startup by replaying the log.
package ledger

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/ledgernode"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
	"github.com/vmihailenco/msgpack/v5"
)

const keyTxn = "txn"

type entry struct {
	Txn     string `msgpack:"txn"`
	Written int64  `msgpack:"written"`
}

// Ledger is a WAL backed ledgernode.Ledger.
type Ledger struct {
	mu   sync.RWMutex
	wal  *gowal.Wal
	txns []string
}

var _ ledgernode.Ledger = (*Ledger)(nil)

// Open opens or creates the ledger of type lt under dir.
func Open(dir string, lt dto.LedgerType) (*Ledger, error) {
	w, err := gowal.NewWAL(gowal.Config{
		Dir:              filepath.Join(dir, strings.ToLower(lt.String())),
		Prefix:           "txns_",
		SegmentThreshold: 1000,
		MaxSegments:      1000,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s ledger", lt)
	}

	l := &Ledger{wal: w}
	if err := l.recover(); err != nil {
		_ = w.Close()
		return nil, err
	}
	return l, nil
}

// OpenAll opens the POOL, DOMAIN and CONFIG ledgers under dir.
func OpenAll(dir string) (map[dto.LedgerType]ledgernode.Ledger, error) {
	all := make(map[dto.LedgerType]ledgernode.Ledger, 3)
	for _, lt := range []dto.LedgerType{dto.LedgerPool, dto.LedgerDomain, dto.LedgerConfig} {
		l, err := Open(dir, lt)
		if err != nil {
			for _, opened := range all {
				_ = opened.Close()
			}
			return nil, err
		}
		all[lt] = l
	}
	return all, nil
}

func (l *Ledger) recover() error {
	found := make(map[uint64]string)
	var indexes []uint64
	for msg := range l.wal.Iterator() {
		if msg.Key != keyTxn {
			continue
		}
		var e entry
		if err := msgpack.Unmarshal(msg.Value, &e); err != nil {
			return errors.Wrapf(err, "decode wal entry %d", msg.Idx)
		}
		if _, ok := found[msg.Idx]; !ok {
			indexes = append(indexes, msg.Idx)
		}
		found[msg.Idx] = e.Txn
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	l.txns = make([]string, 0, len(indexes))
	for i, idx := range indexes {
		if idx != uint64(i+1) {
			return errors.Errorf("wal has a gap before sequence number %d", idx)
		}
		l.txns = append(l.txns, found[idx])
	}
	return nil
}

func (l *Ledger) Append(txn string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seqNo := len(l.txns) + 1
	raw, err := msgpack.Marshal(entry{Txn: txn, Written: time.Now().Unix()})
	if err != nil {
		return 0, errors.Wrap(err, "encode wal entry")
	}
	if err := l.wal.Write(uint64(seqNo), keyTxn, raw); err != nil {
		return 0, errors.Wrapf(err, "write txn %d", seqNo)
	}
	l.txns = append(l.txns, txn)
	return seqNo, nil
}

func (l *Ledger) Get(seqNo int) (string, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seqNo <= 0 {
		return "", false, poolerr.Newf(poolerr.KindRequest, "invalid sequence number %d", seqNo)
	}
	if seqNo > len(l.txns) {
		return "", false, nil
	}
	return l.txns[seqNo-1], true, nil
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.txns)
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wal.Close()
}
