// Package request builds ledger requests and validates requests submitted by clients.
package request

import (
	"bytes"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
)

// Ledger operation type codes.
const (
	TypeNode             = "0"
	TypeNym              = "1"
	TypeGetTxn           = "3"
	TypeTxnAuthorAgrmt   = "4"
	TypeAcceptanceMechs  = "5"
	TypeGetTAA           = "6"
	TypeGetAML           = "7"
	TypeAttrib           = "100"
	TypeGetAttr          = "104"
	TypeGetNym           = "105"
	TypeGetSchema        = "107"
	TypeGetClaimDef      = "108"
	TypeGetValidatorInfo = "119"
)

// DefaultIdentifier signs read requests that need no particular author.
const DefaultIdentifier = "LibindyDid111111111111"

var readTypes = map[string]bool{
	TypeGetTxn:           true,
	TypeGetTAA:           true,
	TypeGetAML:           true,
	TypeGetAttr:          true,
	TypeGetNym:           true,
	TypeGetSchema:        true,
	TypeGetClaimDef:      true,
	TypeGetValidatorInfo: true,
}

// IsRead reports whether requests of type opType only query the ledger.
func IsRead(opType string) bool { return readTypes[opType] }

// Builder serializes ledger requests. Request ids come from a counter owned by
// the builder. A Builder is safe for concurrent use.
type Builder struct {
	version    dto.ProtocolVersion
	identifier string
	reqID      atomic.Int64
}

func NewBuilder(version dto.ProtocolVersion, identifier string) *Builder {
	if identifier == "" {
		identifier = DefaultIdentifier
	}
	b := &Builder{version: version, identifier: identifier}
	b.reqID.Store(time.Now().UnixNano() / int64(time.Microsecond))
	return b
}

func (b *Builder) Version() dto.ProtocolVersion { return b.version }

type envelope struct {
	ReqID           int64                  `json:"reqId"`
	Identifier      string                 `json:"identifier"`
	Operation       map[string]interface{} `json:"operation"`
	ProtocolVersion int                    `json:"protocolVersion"`
}

func (b *Builder) build(op map[string]interface{}, target dto.TargetPolicy) (dto.OutboundRequest, error) {
	id := b.reqID.Add(1)
	payload, err := json.Marshal(envelope{
		ReqID:           id,
		Identifier:      b.identifier,
		Operation:       op,
		ProtocolVersion: int(b.version),
	})
	if err != nil {
		return dto.OutboundRequest{}, poolerr.Wrap(poolerr.KindRequest, err, "serialize request")
	}

	opType, _ := op["type"].(string)
	return dto.OutboundRequest{
		ID:      uuid.NewString(),
		ReqID:   id,
		Type:    opType,
		Payload: payload,
		Target:  target,
		Read:    IsRead(opType),
	}, nil
}

// GetTxn fetches the transaction with sequence number seqNo from ledger.
func (b *Builder) GetTxn(ledger dto.LedgerType, seqNo int) (dto.OutboundRequest, error) {
	if seqNo <= 0 {
		return dto.OutboundRequest{}, poolerr.Newf(poolerr.KindRequest, "invalid sequence number %d", seqNo)
	}
	return b.build(map[string]interface{}{
		"type":     TypeGetTxn,
		"ledgerId": int(ledger),
		"data":     seqNo,
	}, dto.TargetAdaptive())
}

// GetValidatorInfo asks every node for its own status.
func (b *Builder) GetValidatorInfo() (dto.OutboundRequest, error) {
	return b.build(map[string]interface{}{"type": TypeGetValidatorInfo}, dto.TargetAll())
}

// GetTxnAuthorAgreement fetches the active agreement, or the given version.
func (b *Builder) GetTxnAuthorAgreement(version *string) (dto.OutboundRequest, error) {
	op := map[string]interface{}{"type": TypeGetTAA}
	if version != nil {
		op["version"] = *version
	}
	return b.build(op, dto.TargetAdaptive())
}

// GetAcceptanceMechanisms fetches the active acceptance mechanism list, or the given version.
func (b *Builder) GetAcceptanceMechanisms(version *string) (dto.OutboundRequest, error) {
	op := map[string]interface{}{"type": TypeGetAML}
	if version != nil {
		op["version"] = *version
	}
	return b.build(op, dto.TargetAdaptive())
}

type inbound struct {
	ReqID           *int64                 `json:"reqId" validate:"required"`
	Identifier      string                 `json:"identifier" validate:"required_without=Endorser"`
	Endorser        string                 `json:"endorser"`
	Operation       map[string]interface{} `json:"operation" validate:"required"`
	ProtocolVersion int                    `json:"protocolVersion" validate:"gte=0"`
}

var validate = validator.New()

// ParseInbound validates a request built by a client. The payload is forwarded
// unchanged. node, when set, pins the request to that node.
func (b *Builder) ParseInbound(raw []byte, node *string) (dto.OutboundRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var in inbound
	if err := dec.Decode(&in); err != nil {
		return dto.OutboundRequest{}, poolerr.Wrap(poolerr.KindRequest, err, "invalid request json")
	}
	if err := validate.Struct(in); err != nil {
		return dto.OutboundRequest{}, poolerr.Wrap(poolerr.KindRequest, err, "invalid request")
	}

	opType, ok := in.Operation["type"].(string)
	if !ok || opType == "" {
		return dto.OutboundRequest{}, poolerr.Request("operation type is missing")
	}
	if in.ProtocolVersion > int(b.version) {
		return dto.OutboundRequest{}, poolerr.Newf(poolerr.KindRequest,
			"unsupported protocol version %d, pool speaks %d", in.ProtocolVersion, b.version)
	}

	target := dto.TargetAll()
	if readTypes[opType] && opType != TypeGetValidatorInfo {
		target = dto.TargetAdaptive()
	}
	if node != nil && *node != "" {
		target = dto.TargetNode(*node)
	}

	return dto.OutboundRequest{
		ID:      uuid.NewString(),
		ReqID:   *in.ReqID,
		Type:    opType,
		Payload: append([]byte(nil), raw...),
		Target:  target,
		Read:    IsRead(opType),
	}, nil
}

// Operation decodes the operation object of a serialized request.
func Operation(payload []byte) (map[string]interface{}, error) {
	var msg struct {
		Operation map[string]interface{} `json:"operation"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return nil, errors.Wrap(err, "decode request")
	}
	if msg.Operation == nil {
		return nil, errors.New("request has no operation")
	}
	return msg.Operation, nil
}
