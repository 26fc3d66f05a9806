// Package hooks provides an extensible hook system for the consensus engine.
//
// Hooks observe node replies, node failures and round decisions. A hook may also
// veto a reply, which then counts as a non-agreeing answer from that node.
package hooks

import (
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/ledgerpool/core/dto"
)

// Hook defines the interface for consensus engine hooks.
type Hook interface {
	OnReply(req *dto.OutboundRequest, reply *dto.NodeReply) bool
	OnNodeError(req *dto.OutboundRequest, node string, err error)
	OnDecision(req *dto.OutboundRequest, err error, timing dto.TimingResult)
}

// DefaultHook provides the default logging behavior
type DefaultHook struct{}

// NewDefaultHook creates a new default hook instance
func NewDefaultHook() *DefaultHook {
	return &DefaultHook{}
}

func (h *DefaultHook) OnReply(req *dto.OutboundRequest, reply *dto.NodeReply) bool {
	log.Debugf("request %s: reply from %s in %s", req.ID, reply.Node, reply.Latency)
	return true
}

func (h *DefaultHook) OnNodeError(req *dto.OutboundRequest, node string, err error) {
	log.Warnf("request %s: node %s: %v", req.ID, node, err)
}

func (h *DefaultHook) OnDecision(req *dto.OutboundRequest, err error, timing dto.TimingResult) {
	if err != nil {
		log.Infof("request %s failed: %v, timing %s", req.ID, err, timing)
		return
	}
	log.Debugf("request %s reached consensus, timing %s", req.ID, timing)
}
