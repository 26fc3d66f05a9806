package pool

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vadiminshakov/ledgerpool/core/consensus"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/genesis"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
)

// GetTxn fetches one transaction from ledger.
func GetTxn(ctx context.Context, p Pool, ledger dto.LedgerType, seqNo int) dto.Outcome[string] {
	req, err := p.Builder().GetTxn(ledger, seqNo)
	if err != nil {
		return failed[string](err)
	}
	return p.Submit(ctx, req)
}

// GetTxnFull fetches one transaction and checks the inclusion proof carried by
// the agreed reply. A reply holding a transaction without a proof fails with a
// request error. A reply for an empty position carries nothing to prove and is
// returned as is.
func GetTxnFull(ctx context.Context, p Pool, ledger dto.LedgerType, seqNo int) dto.Outcome[string] {
	out := GetTxn(ctx, p, ledger, seqNo)
	if out.Failed() {
		return out
	}
	if err := VerifyTxnProof(out.Value, seqNo); err != nil {
		return dto.Outcome[string]{Err: err, Timing: out.Timing}
	}
	return out
}

// GetValidatorInfo collects the status reply of every node.
func GetValidatorInfo(ctx context.Context, p Pool) dto.Outcome[map[string]string] {
	req, err := p.Builder().GetValidatorInfo()
	if err != nil {
		return failed[map[string]string](err)
	}
	return p.SubmitFull(ctx, req)
}

func GetTxnAuthorAgreement(ctx context.Context, p Pool, version *string) dto.Outcome[string] {
	req, err := p.Builder().GetTxnAuthorAgreement(version)
	if err != nil {
		return failed[string](err)
	}
	return p.Submit(ctx, req)
}

func GetAcceptanceMechanisms(ctx context.Context, p Pool, version *string) dto.Outcome[string] {
	req, err := p.Builder().GetAcceptanceMechanisms(version)
	if err != nil {
		return failed[string](err)
	}
	return p.Submit(ctx, req)
}

// SubmitRequest validates a client built request and submits it. Problems with
// the request itself fail without contacting any node.
func SubmitRequest(ctx context.Context, p Pool, raw []byte, node *string) dto.Outcome[string] {
	req, err := p.Builder().ParseInbound(raw, node)
	if err != nil {
		return failed[string](err)
	}
	return p.Submit(ctx, req)
}

// GenesisLog returns the pool transactions the roster is built from, one per line.
func GenesisLog(p Pool) string {
	return strings.Join(p.Transactions(), "\n")
}

// TxnFromReply extracts the transaction of a GET_TXN reply. ok is false when
// the ledger has no transaction at the requested position.
func TxnFromReply(reply string) (txn string, ok bool, err error) {
	result, err := consensus.ParseReply([]byte(reply))
	if err != nil {
		return "", false, err
	}
	data, present := result["data"]
	if !present || data == nil {
		return "", false, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", false, poolerr.Wrap(poolerr.KindRequest, err, "encode transaction")
	}
	return string(raw), true, nil
}

// VerifyTxnProof checks that the transaction in a GET_TXN reply is included in
// the tree head the reply names. A reply without a transaction needs no proof.
func VerifyTxnProof(reply string, seqNo int) error {
	result, err := consensus.ParseReply([]byte(reply))
	if err != nil {
		return err
	}
	rawPath, hasPath := result["auditPath"].([]interface{})

	txn, ok, err := TxnFromReply(reply)
	if err != nil {
		return err
	}
	switch {
	case !ok && hasPath:
		return poolerr.Request("proof without a transaction")
	case !ok:
		return nil
	case !hasPath:
		return poolerr.Newf(poolerr.KindRequest, "transaction %d has no inclusion proof", seqNo)
	}
	rootHex, _ := result["rootHash"].(string)
	root, err := hex.DecodeString(rootHex)
	if err != nil || len(root) == 0 {
		return poolerr.Request("reply has no valid root hash")
	}
	size, err := ledgerSize(result["ledgerSize"])
	if err != nil {
		return err
	}

	path := make([][]byte, 0, len(rawPath))
	for _, p := range rawPath {
		s, _ := p.(string)
		h, err := hex.DecodeString(s)
		if err != nil {
			return poolerr.Wrap(poolerr.KindRequest, err, "audit path entry")
		}
		path = append(path, h)
	}

	leaf, err := genesis.LeafData(txn)
	if err != nil {
		return poolerr.Wrap(poolerr.KindRequest, err, "transaction in reply")
	}
	if !genesis.VerifyInclusion(leaf, uint64(seqNo-1), size, path, root) {
		return poolerr.Newf(poolerr.KindRequest, "inclusion proof for transaction %d does not match root %s", seqNo, rootHex)
	}
	return nil
}

func ledgerSize(v interface{}) (uint64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, poolerr.Request("reply has no ledger size")
	}
	size, err := n.Int64()
	if err != nil || size <= 0 {
		return 0, poolerr.Request(fmt.Sprintf("invalid ledger size %s", n))
	}
	return uint64(size), nil
}
