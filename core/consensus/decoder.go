package consensus

import (
	"bytes"
	"encoding/json"

	"github.com/vadiminshakov/ledgerpool/core/poolerr"
)

// Decoder turns one node's raw reply into an agreement key and a value. Two
// replies agree when their keys are equal.
type Decoder[T any] func(node string, payload []byte) (key string, value T, err error)

// EnvelopeFields are reply result fields that legitimately differ between nodes.
var EnvelopeFields = []string{"state_proof"}

// Ledger reply message types.
const (
	OpReply   = "REPLY"
	OpReqNack = "REQNACK"
	OpReject  = "REJECT"
)

// Rejection is a node refusing the request itself rather than failing to serve it.
type Rejection struct {
	Op     string
	Reason string
}

func (r *Rejection) Error() string { return r.Op + ": " + r.Reason }

// ReplyDecoder decodes ledger REPLY messages. Replies agree when their result
// objects are equal after the given envelope fields are removed. The value is the
// reply text of the node.
func ReplyDecoder(envelope ...string) Decoder[string] {
	if envelope == nil {
		envelope = EnvelopeFields
	}
	return func(node string, payload []byte) (string, string, error) {
		result, err := ParseReply(payload)
		if err != nil {
			return "", "", err
		}
		for _, f := range envelope {
			delete(result, f)
		}
		key, err := json.Marshal(result)
		if err != nil {
			return "", "", poolerr.Wrap(poolerr.KindRequest, err, "canonical reply")
		}
		return string(key), string(payload), nil
	}
}

// RawDecoder agrees on byte-identical replies.
func RawDecoder() Decoder[string] {
	return func(_ string, payload []byte) (string, string, error) {
		return string(payload), string(payload), nil
	}
}

// ParseReply returns the result object of a REPLY message. Negative
// acknowledgements and rejections are request errors wrapping a *Rejection.
func ParseReply(payload []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var msg map[string]interface{}
	if err := dec.Decode(&msg); err != nil {
		return nil, poolerr.Wrap(poolerr.KindRequest, err, "malformed reply")
	}

	op, _ := msg["op"].(string)
	switch op {
	case OpReply:
	case OpReqNack, OpReject:
		reason, _ := msg["reason"].(string)
		if reason == "" {
			reason = "no reason given"
		}
		return nil, poolerr.Wrap(poolerr.KindRequest, &Rejection{Op: op, Reason: reason}, "request rejected")
	default:
		return nil, poolerr.Newf(poolerr.KindRequest, "unexpected reply op %q", op)
	}

	result, ok := msg["result"].(map[string]interface{})
	if !ok {
		return nil, poolerr.Request("reply has no result")
	}
	return result, nil
}
