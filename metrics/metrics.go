package metrics

import (
	"time"

	"github.com/uber-go/tally"

	"github.com/block/throttle-go/quota"
)

const (
	Attempts        = "attempts"
	Retries         = "retries"
	RateLimited     = "rate_limited"
	Transient       = "transient"
	Exhausted       = "exhausted"
	GateWaits       = "gate_waits"
	GateWaitLatency = "gate_wait_latency"
	QuotaRemaining  = "quota_remaining"

	bucketTag = "bucket"
)

// Scope records what the client does with its quota.
// Every counter and timer is tagged with the bucket it applies to.
type Scope interface {
	IncCounter(name string, bucket quota.BucketKey)
	RecordTimer(name string, bucket quota.BucketKey, d time.Duration)
	UpdateGauge(name string, bucket quota.BucketKey, value float64)
}

type scope struct {
	scope tally.Scope
}

var _ Scope = &scope{}

// New reports to s, typically a root scope already carrying a prefix.
func New(s tally.Scope) Scope {
	if s == nil {
		s = tally.NoopScope
	}
	return &scope{scope: s}
}

func Noop() Scope {
	return New(tally.NoopScope)
}

func (m *scope) tagged(bucket quota.BucketKey) tally.Scope {
	return m.scope.Tagged(map[string]string{bucketTag: string(bucket)})
}

func (m *scope) IncCounter(name string, bucket quota.BucketKey) {
	m.tagged(bucket).Counter(name).Inc(1)
}

func (m *scope) RecordTimer(name string, bucket quota.BucketKey, d time.Duration) {
	m.tagged(bucket).Timer(name).Record(d)
}

func (m *scope) UpdateGauge(name string, bucket quota.BucketKey, value float64) {
	m.tagged(bucket).Gauge(name).Update(value)
}
