package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/ledgernode"
)

var (
	genesisNodes    int
	genesisBasePort int
	genesisOut      string
)

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Genesis transaction tools",
}

var genesisInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the genesis of a local pool",
	Long: `Write NODE transactions for a pool of validators named Node1..NodeN whose
client ports start at --base-port and step by two.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		txns, err := ledgernode.GenesisFor(genesisNodes, genesisBasePort)
		if err != nil {
			return err
		}
		if err := genesis.WriteFile(genesisOut, txns); err != nil {
			return err
		}
		store, err := genesis.Build(txns)
		if err != nil {
			return err
		}
		log.Infof("wrote %d transactions to %s, root %s", len(txns), genesisOut, store.RootHashHex())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genesisCmd)
	genesisCmd.AddCommand(genesisInitCmd)

	flags := genesisInitCmd.Flags()
	flags.IntVar(&genesisNodes, "nodes", 4, "number of validators")
	flags.IntVar(&genesisBasePort, "base-port", 9702, "client port of Node1")
	flags.StringVar(&genesisOut, "out", "genesis.txn", "output file")
}
