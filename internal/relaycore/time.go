package relaycore

import "time"

// nowSeconds is router time: a plain Unix-seconds counter, matching how
// route/continue token expiry and session TTLs are expressed throughout
// spec.md §3/§4.E.
func nowSeconds() uint64 {
	return uint64(time.Now().Unix())
}

// nowFloat is the sub-second monotonic-ish clock the ping mesh's history
// math wants (spec.md §4.G works in fractional seconds).
func nowFloat() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
