package consensus

import (
	"errors"
	"fmt"

	"github.com/vadiminshakov/ledgerpool/core/poolerr"
)

// Judge decides a round from the replies it is fed. Judges are single-use.
type Judge[T any] interface {
	begin(threshold, dispatched int)
	// add records a reply; decided reports that the round can end with value
	// and err. An error on an undecided round belongs to the node alone.
	add(node string, payload []byte) (value T, decided bool, err error)
	// missing is how many more agreeing replies are needed, 0 if widening the
	// round cannot help.
	missing() int
	// exhausted is called once every dispatched node resolved.
	exhausted() (T, error)
	// expired is called when the deadline passes first.
	expired() (T, error)
}

// tally counts agreeing replies per key in first-seen order.
type tally[T any] struct {
	order  []string
	counts map[string]int
	values map[string]T
	best   int
}

func newTally[T any]() *tally[T] {
	return &tally[T]{counts: make(map[string]int), values: make(map[string]T)}
}

func (t *tally[T]) add(key string, value T) int {
	if _, ok := t.counts[key]; !ok {
		t.order = append(t.order, key)
		t.values[key] = value
	}
	t.counts[key]++
	if t.counts[key] > t.best {
		t.best = t.counts[key]
	}
	return t.counts[key]
}

// top returns the first-seen value with the most votes.
func (t *tally[T]) top() (T, int) {
	for _, key := range t.order {
		if t.counts[key] == t.best {
			return t.values[key], t.best
		}
	}
	var zero T
	return zero, 0
}

type quorumJudge[T any] struct {
	dec       Decoder[T]
	threshold int
	tally     *tally[T]
	rejects   *tally[*Rejection]
}

// Quorum accepts the first value that threshold nodes agree on. Rejections are
// tallied by reason: threshold nodes rejecting for the same reason fail the
// round with a request error carrying it.
func Quorum[T any](dec Decoder[T]) Judge[T] {
	return &quorumJudge[T]{dec: dec, tally: newTally[T](), rejects: newTally[*Rejection]()}
}

func (q *quorumJudge[T]) begin(threshold, _ int) { q.threshold = threshold }

func (q *quorumJudge[T]) add(node string, payload []byte) (T, bool, error) {
	var zero T
	key, value, err := q.dec(node, payload)
	var rej *Rejection
	if errors.As(err, &rej) {
		if q.rejects.add(rej.Error(), rej) >= q.threshold {
			return zero, true, rejected(rej)
		}
		return zero, false, err
	}
	if err != nil {
		return zero, false, err
	}
	if q.tally.add(key, value) >= q.threshold {
		return q.tally.values[key], true, nil
	}
	return zero, false, nil
}

func (q *quorumJudge[T]) missing() int {
	return q.threshold - max(q.tally.best, q.rejects.best)
}

func (q *quorumJudge[T]) exhausted() (T, error) {
	var zero T
	if rej, n := q.rejects.top(); n > q.tally.best {
		return zero, rejected(rej)
	}
	return zero, poolerr.NoConsensus(fmt.Sprintf("no reply reached %d agreeing nodes (best %d, %d distinct)",
		q.threshold, q.tally.best, len(q.tally.order)))
}

func (q *quorumJudge[T]) expired() (T, error) {
	var zero T
	return zero, poolerr.New(poolerr.KindTimeout, fmt.Sprintf("deadline passed with %d of %d agreeing nodes",
		q.tally.best, q.threshold))
}

func rejected(rej *Rejection) error {
	return poolerr.Wrap(poolerr.KindRequest, rej, "request rejected by the pool")
}

type collectJudge struct {
	dec     Decoder[string]
	replies map[string]string
}

// CollectAll gathers the decoded reply of every dispatched node, for requests
// whose answers are node-specific (validator status).
func CollectAll(dec Decoder[string]) Judge[map[string]string] {
	return &collectJudge{dec: dec, replies: make(map[string]string)}
}

func (c *collectJudge) begin(int, int) {}

func (c *collectJudge) add(node string, payload []byte) (map[string]string, bool, error) {
	_, value, err := c.dec(node, payload)
	if err != nil {
		return nil, false, err
	}
	c.replies[node] = value
	return nil, false, nil
}

func (c *collectJudge) missing() int { return 0 }

func (c *collectJudge) exhausted() (map[string]string, error) {
	if len(c.replies) == 0 {
		return nil, poolerr.NoConsensus("no node replied")
	}
	return c.replies, nil
}

func (c *collectJudge) expired() (map[string]string, error) {
	if len(c.replies) == 0 {
		return nil, poolerr.New(poolerr.KindTimeout, "deadline passed before any node replied")
	}
	return c.replies, nil
}
