package quota

import "time"

// BucketKey groups requests that share one server-side quota.
// It is only compared for equality.
type BucketKey string

// Snapshot is the quota the server last reported for a bucket.
type Snapshot struct {
	Limit      uint64
	Remaining  uint64
	Used       uint64
	ResetAt    time.Time
	ObservedAt time.Time
}

// Valid reports whether the snapshot respects remaining <= limit.
func (s Snapshot) Valid() bool {
	return s.Remaining <= s.Limit
}

// Exhausted reports whether the bucket has no requests left
// and its window has not reset yet at now.
func (s Snapshot) Exhausted(now time.Time) bool {
	return s.Remaining == 0 && now.Before(s.ResetAt)
}

// NearLimit reports whether less than threshold (0..1) of the limit remains.
func (s Snapshot) NearLimit(threshold float64) bool {
	if s.Limit == 0 {
		return true
	}
	return float64(s.Remaining)/float64(s.Limit) < threshold
}

// Cooldown is a bucket-independent instruction to hold all requests
// until Until. It can be in force while buckets still have quota left.
type Cooldown struct {
	Until      time.Time
	ObservedAt time.Time
}

func (c Cooldown) Active(now time.Time) bool {
	return now.Before(c.Until)
}
