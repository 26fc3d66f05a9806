package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/openzipkin/zipkin-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vadiminshakov/ledgerpool/config"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/ledgernode"
	"github.com/vadiminshakov/ledgerpool/io/gateway/grpc/server"
	"github.com/vadiminshakov/ledgerpool/io/ledger"
	"github.com/vadiminshakov/ledgerpool/io/trace"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run an emulated validator node",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper(configFile)
		if err != nil {
			return err
		}
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return errors.Wrap(err, "bind flags")
		}
		if err := v.BindPFlag("ledger_dir", cmd.Flags().Lookup("ledger-dir")); err != nil {
			return errors.Wrap(err, "bind flags")
		}

		conf, err := config.LoadNode(v)
		if err != nil {
			return err
		}
		return runNode(conf)
	},
}

func init() {
	rootCmd.AddCommand(nodeCmd)

	flags := nodeCmd.Flags()
	flags.SortFlags = false
	flags.String("alias", "", "node alias as written in the genesis transactions")
	flags.String("listen", "127.0.0.1:9702", "grpc listen address")
	flags.String("ledger-dir", "", "directory of the node ledgers")
	flags.String("genesis", "", "genesis transactions seeded into an empty pool ledger")
	flags.String("trace", "", "zipkin collector url, tracing is off when empty")
	flags.StringSlice("whitelist", []string{"127.0.0.1"}, "hosts allowed to call the node, empty allows all")
}

func runNode(conf *config.Node) error {
	ledgers, err := ledger.OpenAll(conf.LedgerDir)
	if err != nil {
		return err
	}
	node := ledgernode.New(conf.Alias, ledgers)
	if conf.Genesis != "" {
		txns, err := genesis.ReadFile(conf.Genesis)
		if err != nil {
			node.Close()
			return err
		}
		if err := node.Seed(txns); err != nil {
			node.Close()
			return err
		}
	}

	var tracer *zipkin.Tracer
	if conf.Trace != "" {
		t, rep, err := trace.Tracer("ledgerpool-"+conf.Alias, conf.Listen, conf.Trace)
		if err != nil {
			node.Close()
			return err
		}
		defer rep.Close()
		tracer = t
	}

	s, err := server.New(conf, tracer, node)
	if err != nil {
		node.Close()
		return err
	}
	if err := s.Run(server.WhiteListChecker); err != nil {
		node.Close()
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	log.Infof("got %s, shutting down", <-sig)
	s.Stop()
	return nil
}
