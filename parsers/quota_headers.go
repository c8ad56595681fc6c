package parsers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/block/throttle-go/quota"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderUsed       = "X-RateLimit-Used"
	HeaderResource   = "X-RateLimit-Resource"
	HeaderRetryAfter = "Retry-After"
)

// QuotaFromHeaders reads the X-RateLimit-* headers of a response.
// X-RateLimit-Reset is an epoch timestamp in seconds.
//
// Limit, Remaining and Reset are all required. If any of them is missing
// or malformed, or remaining is above limit, ok is false and the caller
// should keep treating the quota as unknown.
func QuotaFromHeaders(h http.Header, observedAt time.Time) (quota.Snapshot, bool) {
	var empty quota.Snapshot
	if h == nil {
		return empty, false
	}

	limit, ok := uintHeader(h, HeaderLimit)
	if !ok {
		return empty, false
	}
	remaining, ok := uintHeader(h, HeaderRemaining)
	if !ok || remaining > limit {
		return empty, false
	}
	reset, ok := uintHeader(h, HeaderReset)
	if !ok || reset > maxEpochSeconds {
		return empty, false
	}
	// Used is informational; the server does not always send it
	used, _ := uintHeader(h, HeaderUsed)

	return quota.Snapshot{
		Limit:      limit,
		Remaining:  remaining,
		Used:       used,
		ResetAt:    time.Unix(int64(reset), 0).UTC(),
		ObservedAt: observedAt,
	}, true
}

// CooldownFromHeaders reads Retry-After, either as delay-seconds or as an
// HTTP date, relative to observedAt.
func CooldownFromHeaders(h http.Header, observedAt time.Time) (quota.Cooldown, bool) {
	var empty quota.Cooldown
	if h == nil {
		return empty, false
	}

	v := strings.TrimSpace(h.Get(HeaderRetryAfter))
	if v == "" {
		return empty, false
	}

	if seconds, err := strconv.ParseUint(v, 10, 32); err == nil {
		return quota.Cooldown{
			Until:      observedAt.Add(time.Duration(seconds) * time.Second),
			ObservedAt: observedAt,
		}, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return quota.Cooldown{
			Until:      at.UTC(),
			ObservedAt: observedAt,
		}, true
	}

	return empty, false
}

// BucketFromHeaders returns the bucket the server says served the request.
func BucketFromHeaders(h http.Header) (quota.BucketKey, bool) {
	if h == nil {
		return "", false
	}
	v := strings.TrimSpace(h.Get(HeaderResource))
	if v == "" {
		return "", false
	}
	return quota.BucketKey(v), true
}

// year 9999; anything larger is garbage and would overflow time.Unix math
const maxEpochSeconds = 253402300799

func uintHeader(h http.Header, name string) (uint64, bool) {
	v := strings.TrimSpace(h.Get(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
