package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/basket/gotodo/internal/config"
	"github.com/basket/gotodo/internal/gateway"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func uploadFrom(handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/import_schedule", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 9, 7, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newQuota(rpm, burst int) (*gateway.UploadQuota, *fakeClock) {
	q := gateway.NewUploadQuota(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: rpm,
		BurstSize:         burst,
	})
	clock := newFakeClock()
	q.SetClock(clock.Now)
	return q, clock
}

func TestUploadQuota_BurstThenReject(t *testing.T) {
	q, _ := newQuota(60, 3)
	rejected := 0
	q.OnReject(func(*http.Request) { rejected++ })
	handler := q.Wrap(okHandler())

	for i := 0; i < 3; i++ {
		if rec := uploadFrom(handler, "10.0.0.1:5000"); rec.Code != http.StatusOK {
			t.Fatalf("burst upload %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := uploadFrom(handler, "10.0.0.1:5000")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	// One upload per second: the next slot opens in one second.
	if retryAfter := rec.Header().Get("Retry-After"); retryAfter != "1" {
		t.Fatalf("expected Retry-After: 1, got %q", retryAfter)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON error body, got content type %q", ct)
	}
	if rejected != 1 {
		t.Fatalf("expected reject hook to fire once, got %d", rejected)
	}
}

func TestUploadQuota_RetryAfterReflectsWait(t *testing.T) {
	// Two uploads per minute: slots are 30s apart.
	q, _ := newQuota(2, 1)
	handler := q.Wrap(okHandler())

	if rec := uploadFrom(handler, "10.0.0.4:1"); rec.Code != http.StatusOK {
		t.Fatalf("first upload: expected 200, got %d", rec.Code)
	}
	rec := uploadFrom(handler, "10.0.0.4:1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if retryAfter := rec.Header().Get("Retry-After"); retryAfter != "30" {
		t.Fatalf("expected Retry-After: 30, got %q", retryAfter)
	}
}

func TestUploadQuota_KeysByHostNotPort(t *testing.T) {
	q, _ := newQuota(60, 1)
	handler := q.Wrap(okHandler())

	if rec := uploadFrom(handler, "10.0.0.1:5000"); rec.Code != http.StatusOK {
		t.Fatalf("first upload: expected 200, got %d", rec.Code)
	}
	// A new connection from the same host shares the quota.
	if rec := uploadFrom(handler, "10.0.0.1:5001"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same host: expected 429, got %d", rec.Code)
	}
	if rec := uploadFrom(handler, "10.0.0.2:5000"); rec.Code != http.StatusOK {
		t.Fatalf("other host: expected 200, got %d", rec.Code)
	}
	if q.Clients() != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", q.Clients())
	}
}

func TestUploadQuota_DrainsOverTime(t *testing.T) {
	q, clock := newQuota(60, 1)
	handler := q.Wrap(okHandler())

	if rec := uploadFrom(handler, "10.0.0.9:1"); rec.Code != http.StatusOK {
		t.Fatalf("first upload: expected 200, got %d", rec.Code)
	}
	if rec := uploadFrom(handler, "10.0.0.9:1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 immediately after, got %d", rec.Code)
	}

	clock.Advance(time.Second)

	if rec := uploadFrom(handler, "10.0.0.9:1"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after one interval, got %d", rec.Code)
	}
}

func TestUploadQuota_RejectedUploadsDoNotCharge(t *testing.T) {
	q, clock := newQuota(60, 1)
	handler := q.Wrap(okHandler())

	uploadFrom(handler, "10.0.0.7:1")
	for i := 0; i < 5; i++ {
		uploadFrom(handler, "10.0.0.7:1")
	}
	clock.Advance(time.Second)
	if rec := uploadFrom(handler, "10.0.0.7:1"); rec.Code != http.StatusOK {
		t.Fatalf("refused uploads pushed the quota out: got %d", rec.Code)
	}
}

func TestUploadQuota_EvictIdle(t *testing.T) {
	q, clock := newQuota(60, 10)
	handler := q.Wrap(okHandler())

	for _, addr := range []string{"10.0.1.1:1", "10.0.1.2:1", "10.0.1.3:1"} {
		uploadFrom(handler, addr)
	}
	if got := q.EvictIdle(); got != 0 {
		t.Fatalf("expected no eviction before drain, evicted %d", got)
	}

	clock.Advance(time.Second)
	uploadFrom(handler, "10.0.1.3:1")
	if got := q.EvictIdle(); got != 2 {
		t.Fatalf("expected 2 drained clients evicted, got %d", got)
	}
	if q.Clients() != 1 {
		t.Fatalf("expected 1 client left, got %d", q.Clients())
	}
}

func TestUploadQuota_StartEvictionRunsUntilCancel(t *testing.T) {
	q, clock := newQuota(60, 1)
	handler := q.Wrap(okHandler())
	uploadFrom(handler, "10.0.3.1:1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartEviction(ctx, 10*time.Millisecond)

	clock.Advance(time.Second)
	waitFor(t, 2*time.Second, func() bool { return q.Clients() == 0 })
}

func TestUploadQuota_Disabled(t *testing.T) {
	q := gateway.NewUploadQuota(config.RateLimitConfig{Enabled: false, BurstSize: 1})
	handler := q.Wrap(okHandler())
	for i := 0; i < 5; i++ {
		if rec := uploadFrom(handler, "10.0.0.1:1"); rec.Code != http.StatusOK {
			t.Fatalf("upload %d: expected 200 when disabled, got %d", i, rec.Code)
		}
	}
	if q.Clients() != 0 {
		t.Fatalf("disabled quota must not track clients, got %d", q.Clients())
	}
}
