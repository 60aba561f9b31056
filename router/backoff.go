package router

import (
	"math/rand"
	"time"
)

// backoffPolicy implements the temporary_failure/locked retry schedule
// decided in DESIGN.md's Open Questions: start at 1ms, double on each
// retry, cap at 500ms, apply +/-20% jitter.
type backoffPolicy struct {
	cur time.Duration
}

const (
	backoffStart = time.Millisecond
	backoffCap   = 500 * time.Millisecond
)

func newBackoffPolicy() *backoffPolicy {
	return &backoffPolicy{cur: backoffStart}
}

// next returns the jittered delay to wait before the next attempt and
// advances the internal schedule.
func (b *backoffPolicy) next() time.Duration {
	d := jitter(b.cur)
	b.cur *= 2
	if b.cur > backoffCap {
		b.cur = backoffCap
	}
	return d
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	result := float64(d) + offset
	if result < 0 {
		return 0
	}
	return time.Duration(result)
}

// notMyVBucketPoll is the short, fixed wait the router races against a
// fresh-configuration signal before reissuing a not_my_vbucket request
// (spec.md §4.6: "wait until either (a) a new configuration is
// published ... or (b) a short backoff elapses, whichever comes
// first").
const notMyVBucketPoll = 50 * time.Millisecond
