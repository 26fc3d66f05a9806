package genesis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// NewNodeTransaction renders n as a protocol v2 NODE transaction with the given
// sequence number. Services nil means "leave unchanged" on an update; use an empty
// slice to demote the node.
func NewNodeTransaction(seqNo int, n Node) (string, error) {
	clientIP, clientPort, err := splitAddr(n.Address)
	if err != nil {
		return "", errors.Wrap(err, "client address")
	}
	nodeIP, nodePort := clientIP, clientPort+1
	if n.NodeAddress != "" {
		if nodeIP, nodePort, err = splitAddr(n.NodeAddress); err != nil {
			return "", errors.Wrap(err, "node address")
		}
	}

	data := map[string]interface{}{
		"alias":       n.ID,
		"client_ip":   clientIP,
		"client_port": clientPort,
		"node_ip":     nodeIP,
		"node_port":   nodePort,
	}
	if n.BLSKey != "" {
		data["blskey"] = n.BLSKey
	}
	if n.Services != nil {
		data["services"] = n.Services
	}

	txn := map[string]interface{}{
		"reqSignature": map[string]interface{}{},
		"txn": map[string]interface{}{
			"data": map[string]interface{}{
				"data": data,
				"dest": n.Dest,
			},
			"metadata": map[string]interface{}{},
			"type":     NodeTxnType,
		},
		"txnMetadata": map[string]interface{}{
			"seqNo": seqNo,
			"txnId": txnID(n.Dest, seqNo),
		},
		"ver": "1",
	}
	raw, err := json.Marshal(txn)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func txnID(dest string, seqNo int) string {
	sum := sha256.Sum256([]byte(dest + ":" + strconv.Itoa(seqNo)))
	return hex.EncodeToString(sum[:])
}

func splitAddr(addr string) (string, int, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", 0, err
	}
	return host, p, nil
}
