package virustotal

import (
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultQuotaBackoff = 60 * time.Second

type RateLimitBucket struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// RateLimitMonitor tracks per-endpoint quota, backing off after a 429
type RateLimitMonitor struct {
	mu      sync.RWMutex
	buckets map[string]*RateLimitBucket
	now     func() time.Time
}

func NewRateLimitMonitor() *RateLimitMonitor {
	return &RateLimitMonitor{
		buckets: make(map[string]*RateLimitBucket),
		now:     time.Now,
	}
}

func (rlm *RateLimitMonitor) CanExecute(endpoint string) bool {
	rlm.mu.RLock()
	bucket, exists := rlm.buckets[endpoint]
	rlm.mu.RUnlock()

	if !exists {
		return true
	}

	if !rlm.now().Before(bucket.ResetAt) {
		return true
	}

	return bucket.Remaining > 0
}

// UpdateFromFastHTTPResponse records quota headers and 429 backoff for endpoint
func (rlm *RateLimitMonitor) UpdateFromFastHTTPResponse(resp *fasthttp.Response, endpoint string) {
	remaining := string(resp.Header.Peek("X-RateLimit-Remaining"))
	limit := string(resp.Header.Peek("X-RateLimit-Limit"))
	retryAfter := string(resp.Header.Peek(fasthttp.HeaderRetryAfter))

	if resp.StatusCode() != fasthttp.StatusTooManyRequests && remaining == "" {
		return
	}

	bucket := &RateLimitBucket{Remaining: -1}

	if remaining != "" {
		bucket.Remaining, _ = strconv.Atoi(remaining)
	}
	if limit != "" {
		bucket.Limit, _ = strconv.Atoi(limit)
	}

	if resp.StatusCode() == fasthttp.StatusTooManyRequests {
		bucket.Remaining = 0
		backoff := defaultQuotaBackoff
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			backoff = time.Duration(secs) * time.Second
		}
		bucket.ResetAt = rlm.now().Add(backoff)
	} else {
		bucket.ResetAt = rlm.now().Add(defaultQuotaBackoff)
	}

	rlm.mu.Lock()
	rlm.buckets[endpoint] = bucket
	rlm.mu.Unlock()
}

func (rlm *RateLimitMonitor) GetBucket(endpoint string) *RateLimitBucket {
	rlm.mu.RLock()
	defer rlm.mu.RUnlock()

	bucket, ok := rlm.buckets[endpoint]
	if !ok {
		return nil
	}
	copied := *bucket
	return &copied
}
