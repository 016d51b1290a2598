package gateway

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/basket/gotodo/internal/config"
)

// UploadQuota paces schedule uploads per client address. Each client is
// tracked by the time its quota fully drains: an upload pushes that time
// one interval further, and is refused when it would land more than
// burst intervals past now.
type UploadQuota struct {
	enabled  bool
	interval time.Duration
	burst    time.Duration
	now      func() time.Time
	onReject func(*http.Request)

	mu      sync.Mutex
	drainAt map[string]time.Time
}

// NewUploadQuota builds a quota from config. Zero values fall back to
// 30 uploads per minute with a burst of 5.
func NewUploadQuota(cfg config.RateLimitConfig) *UploadQuota {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 5
	}
	interval := time.Minute / time.Duration(rpm)
	return &UploadQuota{
		enabled:  cfg.Enabled,
		interval: interval,
		burst:    interval * time.Duration(burst),
		now:      time.Now,
		drainAt:  make(map[string]time.Time),
	}
}

// OnReject registers fn to run for every refused upload.
func (q *UploadQuota) OnReject(fn func(*http.Request)) {
	q.onReject = fn
}

// admit charges one upload to key. When refused it reports how long the
// client must wait for the next upload to fit.
func (q *UploadQuota) admit(key string) (bool, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	drain := q.drainAt[key]
	if drain.Before(now) {
		drain = now
	}
	next := drain.Add(q.interval)
	if ahead := next.Sub(now); ahead > q.burst {
		return false, ahead - q.burst
	}
	q.drainAt[key] = next
	return true, 0
}

// EvictIdle forgets clients whose quota has fully drained. They would be
// admitted with a full burst anyway.
func (q *UploadQuota) EvictIdle() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	evicted := 0
	for key, drain := range q.drainAt {
		if !drain.After(now) {
			delete(q.drainAt, key)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("upload quota eviction", "evicted", evicted, "remaining", len(q.drainAt))
	}
	return evicted
}

// StartEviction runs EvictIdle every interval until ctx is done.
func (q *UploadQuota) StartEviction(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.EvictIdle()
			}
		}
	}()
}

// Clients is the number of addresses with an undrained quota.
func (q *UploadQuota) Clients() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.drainAt)
}

func (q *UploadQuota) Wrap(next http.Handler) http.Handler {
	if !q.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := q.admit(clientKey(r))
		if !ok {
			if q.onReject != nil {
				q.onReject(r)
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			writeError(w, http.StatusTooManyRequests, "too many schedule uploads")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// clientKey strips the port so one client maps to one quota across connections.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
