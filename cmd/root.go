// Package cmd holds the ledgerpool command line.
package cmd

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel   string
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ledgerpool",
	Short: "Quorum verified access to a permissioned ledger",
	Long: `ledgerpool talks to the validator nodes of a permissioned ledger and only
trusts answers a quorum of them agree on. It also runs emulated validator nodes.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (toml, yaml or json)")
}

func initLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC822,
	})
	lvl, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("bad log level: %s", err)
	}
	log.SetLevel(lvl)
}
