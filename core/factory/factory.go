// Package factory assembles pools from genesis transactions and a validated
// configuration. The hash tree is built once and shared by every pool created.
package factory

import (
	"bytes"

	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/ledgerpool/config"
	"github.com/vadiminshakov/ledgerpool/core/consensus/hooks"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/pool"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
	"github.com/vadiminshakov/ledgerpool/core/runner"
	"github.com/vadiminshakov/ledgerpool/core/transport"
)

type Factory struct {
	cfg       config.PoolConfig
	store     *genesis.Store
	transport transport.Factory
	cache     pool.TxnCache
	hooks     []hooks.Hook
}

// FromTransactions builds the genesis store from txns.
func FromTransactions(txns []string, tf transport.Factory) (*Factory, error) {
	store, err := genesis.Build(txns)
	if err != nil {
		return nil, err
	}
	return &Factory{cfg: config.DefaultPool(), store: store, transport: tf}, nil
}

// FromGenesisFile reads newline-delimited genesis transactions from path.
func FromGenesisFile(path string, tf transport.Factory) (*Factory, error) {
	txns, err := genesis.ReadFile(path)
	if err != nil {
		return nil, err
	}
	log.Debugf("loaded %d genesis transactions from %s", len(txns), path)
	return FromTransactions(txns, tf)
}

func (f *Factory) Config() config.PoolConfig { return f.cfg }

// SetConfig replaces the pool settings after validating them against the roster.
func (f *Factory) SetConfig(cfg config.PoolConfig) error {
	if err := cfg.ValidateRoster(len(f.store.Roster())); err != nil {
		return err
	}
	f.cfg = cfg
	return nil
}

func (f *Factory) SetProtocolVersion(v dto.ProtocolVersion) {
	f.cfg.ProtocolVersion = int(v)
}

func (f *Factory) Transactions() []string { return f.store.Transactions() }
func (f *Factory) Store() *genesis.Store  { return f.store }

// AddTransactions appends txns to the genesis transactions.
func (f *Factory) AddTransactions(txns []string) error {
	next, err := f.store.Extend(txns)
	if err != nil {
		return err
	}
	f.store = next
	return nil
}

// SetTransactions replaces the genesis transactions.
func (f *Factory) SetTransactions(txns []string) error {
	store, err := genesis.Build(txns)
	if err != nil {
		return err
	}
	f.store = store
	return nil
}

// SetHooks replaces the default consensus hooks of pools created afterwards.
func (f *Factory) SetHooks(hs ...hooks.Hook) { f.hooks = hs }

// WithCache makes pools persist refreshed transactions to c, and starts from the
// cached transactions when they extend the current genesis.
func (f *Factory) WithCache(c pool.TxnCache) {
	f.cache = c
	cached, err := c.LoadTransactions()
	if err != nil {
		log.Warnf("ignoring transaction cache: %v", err)
		return
	}
	if len(cached) <= f.store.Len() {
		return
	}
	prefix, err := genesis.Build(cached[:f.store.Len()])
	if err != nil || !bytes.Equal(prefix.RootHash(), f.store.RootHash()) {
		log.Warnf("transaction cache does not extend the genesis transactions, ignoring it")
		return
	}
	store, err := f.store.Extend(cached[f.store.Len():])
	if err != nil {
		log.Warnf("ignoring transaction cache: %v", err)
		return
	}
	log.Infof("starting from %d cached pool transactions", store.Len())
	f.store = store
}

func (f *Factory) options() []pool.Option {
	var opts []pool.Option
	if f.cache != nil {
		opts = append(opts, pool.WithCache(f.cache))
	}
	if len(f.hooks) > 0 {
		opts = append(opts, pool.WithHooks(f.hooks...))
	}
	return opts
}

func (f *Factory) check() error {
	if f.transport == nil {
		return poolerr.Config("no transport factory")
	}
	return nil
}

// CreateLocal creates a pool for use on the calling goroutine only.
func (f *Factory) CreateLocal() (*pool.Local, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return pool.NewLocal(f.cfg, f.store, f.transport, f.options()...)
}

// CreateShared creates a pool safe for concurrent use.
func (f *Factory) CreateShared() (*pool.Shared, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return pool.NewShared(f.cfg, f.store, f.transport, f.options()...)
}

// CreateRunner creates a Local pool and hands it to a new runner.
func (f *Factory) CreateRunner() (*runner.Runner, error) {
	p, err := f.CreateLocal()
	if err != nil {
		return nil, err
	}
	return runner.New(p), nil
}
