// Package store persists verified pool transactions using BadgerDB.
//
// A proxy saves the pool ledger it refreshed so that the next start can begin
// from the longer roster instead of the genesis file.
package store

import (
	stdErrors "errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/ledgerpool/core/pool"
)

const (
	keyCount  = "pool/count"
	txnPrefix = "pool/txn/"
)

// Store keeps the cached pool transactions of one pool.
type Store struct {
	db *badger.DB
	mu sync.RWMutex
}

var _ pool.TxnCache = (*Store)(nil)

// New opens the store in dbPath, creating the directory if needed.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}

	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, errors.Wrap(err, "create badger directory")
	}

	opts := badger.DefaultOptions(dbPath).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger db")
	}

	return &Store{db: db}, nil
}

func txnKey(i int) []byte {
	return []byte(fmt.Sprintf("%s%010d", txnPrefix, i))
}

// SaveTransactions replaces the cached transactions with txns.
func (s *Store) SaveTransactions(txns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		old, err := count(txn)
		if err != nil {
			return err
		}
		for i, t := range txns {
			if err := txn.Set(txnKey(i+1), []byte(t)); err != nil {
				return err
			}
		}
		for i := len(txns) + 1; i <= old; i++ {
			if err := txn.Delete(txnKey(i)); err != nil && !stdErrors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return txn.Set([]byte(keyCount), []byte(strconv.Itoa(len(txns))))
	})
}

// LoadTransactions returns the cached transactions, none if nothing was saved.
func (s *Store) LoadTransactions() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txns []string
	err := s.db.View(func(txn *badger.Txn) error {
		n, err := count(txn)
		if err != nil {
			return err
		}
		txns = make([]string, 0, n)
		for i := 1; i <= n; i++ {
			item, err := txn.Get(txnKey(i))
			if err != nil {
				return errors.Wrapf(err, "cached txn %d", i)
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			txns = append(txns, string(value))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func count(txn *badger.Txn) (int, error) {
	item, err := txn.Get([]byte(keyCount))
	if stdErrors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int
	err = item.Value(func(val []byte) error {
		n, err = strconv.Atoi(string(val))
		return err
	})
	return n, errors.Wrap(err, "cached txn count")
}

// Size returns the number of cached transactions.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(txnPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}

// Close closes the underlying Badger database.
func (s *Store) Close() error {
	return s.db.Close()
}
