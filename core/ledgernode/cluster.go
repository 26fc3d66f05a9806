package ledgernode

import (
	"fmt"

	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/transport"
	"github.com/vadiminshakov/ledgerpool/core/transport/memory"
)

// Cluster is a set of nodes started from one genesis and reachable over an
// in-memory network.
type Cluster struct {
	Nodes   []*Node
	Genesis []string
	Network *memory.Network
}

// GenesisFor returns the NODE transactions of an n node pool listening on
// consecutive loopback ports from basePort.
func GenesisFor(n, basePort int) ([]string, error) {
	txns := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		txn, err := genesis.NewNodeTransaction(i, genesis.Node{
			ID:       fmt.Sprintf("Node%d", i),
			Dest:     fmt.Sprintf("Gw6pDLhcBcoQesN72qfotTgFa7cbuqZpkX3Xo6pLhPh%d", i),
			Address:  fmt.Sprintf("127.0.0.1:%d", basePort+2*(i-1)),
			Services: []string{genesis.ServiceValidator},
		})
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

// NewCluster starts n in-memory nodes.
func NewCluster(n int) (*Cluster, error) {
	txns, err := GenesisFor(n, 9702)
	if err != nil {
		return nil, err
	}
	c := &Cluster{Genesis: txns, Network: memory.NewNetwork()}
	for i := 1; i <= n; i++ {
		node := New(fmt.Sprintf("Node%d", i), nil)
		if err := node.Seed(txns); err != nil {
			return nil, err
		}
		c.Nodes = append(c.Nodes, node)
		c.Network.Handle(node.Alias(), memory.Serve(node.Handle))
	}
	return c, nil
}

// Factory returns a transport factory over the cluster network.
func (c *Cluster) Factory() transport.Factory { return c.Network.Factory() }

// Store builds the genesis store of the cluster.
func (c *Cluster) Store() (*genesis.Store, error) { return genesis.Build(c.Genesis) }
