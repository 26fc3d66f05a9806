package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openzipkin/zipkin-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vadiminshakov/ledgerpool/config"
	"github.com/vadiminshakov/ledgerpool/core/factory"
	"github.com/vadiminshakov/ledgerpool/core/pool"
	"github.com/vadiminshakov/ledgerpool/io/gateway/grpc/client"
	"github.com/vadiminshakov/ledgerpool/io/gateway/rest"
	"github.com/vadiminshakov/ledgerpool/io/store"
	"github.com/vadiminshakov/ledgerpool/io/trace"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Serve pool operations over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper(configFile)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		for key, flag := range map[string]string{
			"listen":                       "listen",
			"genesis":                      "genesis",
			"cache":                        "cache",
			"trace":                        "trace",
			"shared":                       "shared",
			"pool.protocol_version":        "protocol-version",
			"pool.request_timeout":         "timeout",
			"pool.max_concurrent_requests": "max-concurrent",
			"pool.request_fanout":          "fanout",
			"pool.quorum":                  "quorum",
		} {
			if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
				return errors.Wrapf(err, "bind flag %s", flag)
			}
		}

		conf, err := config.LoadProxy(v)
		if err != nil {
			return err
		}
		return runProxy(conf)
	},
}

func init() {
	rootCmd.AddCommand(proxyCmd)

	def := config.DefaultPool()
	flags := proxyCmd.Flags()
	flags.SortFlags = false
	flags.String("listen", "127.0.0.1:3000", "http listen address")
	flags.String("genesis", "genesis.txn", "genesis transactions file")
	flags.String("cache", "", "directory caching verified pool transactions")
	flags.String("trace", "", "zipkin collector url, tracing is off when empty")
	flags.Bool("shared", false, "serve from a shared pool instead of a pool runner")
	flags.Int("protocol-version", def.ProtocolVersion, "ledger protocol version")
	flags.Duration("timeout", def.RequestTimeout, "request timeout")
	flags.Int("max-concurrent", def.MaxConcurrentRequests, "requests in flight at once")
	flags.Int("fanout", def.RequestFanout, "nodes queried first by reads, 0 for all")
	flags.Int("quorum", def.Quorum, "agreeing replies required")
}

func runProxy(conf *config.Proxy) error {
	var tracer *zipkin.Tracer
	if conf.Trace != "" {
		t, rep, err := trace.Tracer("ledgerpool-proxy", conf.Listen, conf.Trace)
		if err != nil {
			return err
		}
		defer rep.Close()
		tracer = t
	}

	f, err := factory.FromGenesisFile(conf.Genesis, client.Factory(tracer))
	if err != nil {
		return err
	}
	if err := f.SetConfig(conf.Pool); err != nil {
		return err
	}
	if conf.Cache != "" {
		cache, err := store.New(conf.Cache)
		if err != nil {
			return err
		}
		defer cache.Close()
		f.WithCache(cache)
	}

	var p pool.Pool
	if conf.Shared {
		p, err = f.CreateShared()
	} else {
		p, err = f.CreateRunner()
	}
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), conf.Pool.RequestTimeout)
	changed, err := p.Refresh(ctx)
	cancel()
	if err != nil {
		log.Warnf("pool refresh failed, serving the genesis roster: %s", err)
	} else if changed {
		log.Infof("pool refreshed, %d nodes in roster", len(p.Roster()))
	}

	srv := rest.New(p)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(conf.Listen) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case s := <-sig:
		log.Infof("got %s, shutting down", s)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}
