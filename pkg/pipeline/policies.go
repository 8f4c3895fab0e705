package pipeline

import (
	"time"

	"github.com/illmade-knight/go-courier/pkg/courier"
)

// RetryPolicy decides which failed messages return to the pending pool.
type RetryPolicy struct{}

// Eligible returns the subset of msgs that may be retried: failed messages
// whose error count is still below their effective ceiling. Messages at or
// past the ceiling stay failed forever, which makes the retry phase
// idempotent and monotonic.
func (RetryPolicy) Eligible(msgs []courier.Message, globalMaxErrors int) []courier.Message {
	var out []courier.Message
	for _, m := range msgs {
		if m.State != courier.StateFailed {
			continue
		}
		if m.ErrorCount >= m.EffectiveMaxErrors(globalMaxErrors) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ArchivePolicy decides which terminal messages leave the active set.
type ArchivePolicy struct{}

// Eligible returns the subset of msgs ready for archival: terminal messages
// older than the retention window whose ArchiveAfter has passed.
func (ArchivePolicy) Eligible(msgs []courier.Message, maxDaysToLive int, now time.Time, globalMaxErrors int) []courier.Message {
	retention := time.Duration(maxDaysToLive) * 24 * time.Hour

	var out []courier.Message
	for _, m := range msgs {
		if !m.Terminal(globalMaxErrors) {
			continue
		}
		if now.Sub(m.CreatedAt) <= retention {
			continue
		}
		if m.ArchiveAfter.After(now) {
			continue
		}
		out = append(out, m)
	}
	return out
}
