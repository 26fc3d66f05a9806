package hooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
)

const namespace = "ledgerpool"

var (
	outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_outcomes_total",
			Help:      "The total number of consensus rounds by outcome",
		},
		[]string{"outcome"},
	)

	replyLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_reply_seconds",
			Help:      "Round-trip latency of node replies",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"node"},
	)

	nodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_errors_total",
			Help:      "The total number of failed node exchanges",
		},
		[]string{"node", "kind"},
	)
)

// MetricsHook exports reply latency, node failures and round outcomes to prometheus.
type MetricsHook struct{}

func NewMetricsHook() *MetricsHook {
	return &MetricsHook{}
}

func (m *MetricsHook) OnReply(_ *dto.OutboundRequest, reply *dto.NodeReply) bool {
	replyLatency.WithLabelValues(reply.Node).Observe(reply.Latency.Seconds())
	return true
}

func (m *MetricsHook) OnNodeError(_ *dto.OutboundRequest, node string, err error) {
	nodeErrors.WithLabelValues(node, poolerr.KindOf(err).String()).Inc()
}

func (m *MetricsHook) OnDecision(_ *dto.OutboundRequest, err error, _ dto.TimingResult) {
	if err == nil {
		outcomes.WithLabelValues("reply").Inc()
		return
	}
	outcomes.WithLabelValues(poolerr.KindOf(err).String()).Inc()
}

// SizeLimitHook rejects node replies larger than a limit.
type SizeLimitHook struct {
	maxReplySize int
}

func NewSizeLimitHook(maxReplySize int) *SizeLimitHook {
	return &SizeLimitHook{maxReplySize: maxReplySize}
}

func (v *SizeLimitHook) OnReply(req *dto.OutboundRequest, reply *dto.NodeReply) bool {
	if len(reply.Payload) > v.maxReplySize {
		log.Errorf("request %s: reply from %s too large: %d > %d", req.ID, reply.Node, len(reply.Payload), v.maxReplySize)
		return false
	}
	return true
}

func (v *SizeLimitHook) OnNodeError(*dto.OutboundRequest, string, error) {}

func (v *SizeLimitHook) OnDecision(*dto.OutboundRequest, error, dto.TimingResult) {}
