package gateway

import "time"

// SetClock replaces the quota's time source.
func (q *UploadQuota) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}
