// Package clock abstracts time so pacing, backoff and checkpoint cadence can be
// simulated in tests.
package clock

import (
	"context"
	"time"
)

// Clock reports the current time and suspends the caller.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}
