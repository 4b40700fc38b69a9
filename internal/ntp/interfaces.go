package ntp

import "time"

// TimeProvider is the single clock every expiry and window computation reads.
// Implementations may be the local clock, an NTP-corrected clock or a manual
// clock driven by tests.
type TimeProvider interface {
	Now() time.Time
	NowUnixMilli() int64
}
