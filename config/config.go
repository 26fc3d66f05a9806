// Package config holds the process configuration of the proxy and node commands
// and the validated pool settings.
package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
)

const envPrefix = "LEDGERPOOL"

// PoolConfig are the settings every pool is built from.
type PoolConfig struct {
	ProtocolVersion       int           `mapstructure:"protocol_version" validate:"oneof=1 2"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests" validate:"gte=1"`
	RequestFanout         int           `mapstructure:"request_fanout" validate:"gte=0"` // 0 queries every node
	Quorum                int           `mapstructure:"quorum" validate:"gte=1"`
}

// DefaultPool returns settings suitable for a four node pool.
func DefaultPool() PoolConfig {
	return PoolConfig{
		ProtocolVersion:       2,
		RequestTimeout:        20 * time.Second,
		MaxConcurrentRequests: 100,
		RequestFanout:         0,
		Quorum:                3,
	}
}

var validate = validator.New()

// Validate checks the settings on their own.
func (p PoolConfig) Validate() error {
	if err := validate.Struct(p); err != nil {
		return poolerr.Wrap(poolerr.KindConfig, err, "invalid pool config")
	}
	return nil
}

// ValidateRoster checks the settings against a roster of size n.
func (p PoolConfig) ValidateRoster(n int) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if n == 0 {
		return poolerr.Config("roster is empty")
	}
	if p.Quorum > n {
		return poolerr.Newf(poolerr.KindConfig, "quorum %d exceeds roster size %d", p.Quorum, n)
	}
	return nil
}

// Proxy configures the HTTP front end.
type Proxy struct {
	Listen  string     `mapstructure:"listen" validate:"required,hostname_port"`
	Genesis string     `mapstructure:"genesis" validate:"required"`
	Cache   string     `mapstructure:"cache"`  // badger directory for verified pool transactions
	Trace   string     `mapstructure:"trace"`  // zipkin collector url
	Shared  bool       `mapstructure:"shared"` // serve from a shared pool instead of a runner
	Pool    PoolConfig `mapstructure:"pool"`
}

// Node configures one emulated validator.
type Node struct {
	Alias     string   `mapstructure:"alias" validate:"required"`
	Listen    string   `mapstructure:"listen" validate:"required,hostname_port"`
	LedgerDir string   `mapstructure:"ledger_dir" validate:"required"`
	Genesis   string   `mapstructure:"genesis"` // pool transactions seeded into an empty POOL ledger
	Trace     string   `mapstructure:"trace"`
	Whitelist []string `mapstructure:"whitelist"`
}

// NewViper returns a viper reading LEDGERPOOL_* environment variables and an
// optional config file.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	def := DefaultPool()
	v.SetDefault("listen", "127.0.0.1:3000")
	v.SetDefault("genesis", "genesis.txn")
	v.SetDefault("pool.protocol_version", def.ProtocolVersion)
	v.SetDefault("pool.request_timeout", def.RequestTimeout)
	v.SetDefault("pool.max_concurrent_requests", def.MaxConcurrentRequests)
	v.SetDefault("pool.request_fanout", def.RequestFanout)
	v.SetDefault("pool.quorum", def.Quorum)
	v.SetDefault("whitelist", []string{"127.0.0.1"})

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", configFile)
		}
	}
	return v, nil
}

// LoadProxy decodes and validates the proxy configuration.
func LoadProxy(v *viper.Viper) (*Proxy, error) {
	var c Proxy
	if err := v.Unmarshal(&c); err != nil {
		return nil, poolerr.Wrap(poolerr.KindConfig, err, "decode config")
	}
	if err := validate.Struct(c); err != nil {
		return nil, poolerr.Wrap(poolerr.KindConfig, err, "invalid config")
	}
	return &c, nil
}

// LoadNode decodes and validates a node configuration.
func LoadNode(v *viper.Viper) (*Node, error) {
	var c Node
	if err := v.Unmarshal(&c); err != nil {
		return nil, poolerr.Wrap(poolerr.KindConfig, err, "decode config")
	}
	if err := validate.Struct(c); err != nil {
		return nil, poolerr.Wrap(poolerr.KindConfig, err, "invalid config")
	}
	return &c, nil
}
