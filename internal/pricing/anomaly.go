package pricing

// Guard rejects fused mids that move implausibly far from the prior mid in a
// single update. Rejected updates are logged and left unapplied so a bad
// scrape cannot poison the stored price.
type Guard struct {
	MaxRise float64 // fractional rise above which updates are rejected
	MaxDrop float64 // fractional drop (positive number) above which updates are rejected
}

// DefaultGuard allows at most an 80% rise or a 60% drop per update.
func DefaultGuard() Guard {
	return Guard{MaxRise: 0.80, MaxDrop: 0.60}
}

// Check returns the relative delta against the previous mid and whether the
// new mid is acceptable. With no usable prior (nil, zero, or negative) every
// update is accepted and the delta is zero.
func (g Guard) Check(prev *float64, next float64) (delta float64, ok bool) {
	if prev == nil || *prev <= 0 || !isFinite(*prev) {
		return 0, true
	}
	delta = (next - *prev) / *prev
	if delta > g.MaxRise || delta < -g.MaxDrop {
		return delta, false
	}
	return delta, true
}
