package rooms

import "time"

// inboundLimiter bounds what one connection may push into a room.
// Signaling frames are small but bursty: voice_activity arrives at
// frame cadence while speech runs unbroken, and ICE trickle stacks up
// right after join. Both a message rate and a byte rate apply; tokens
// refill continuously and cap at a burst window.
//
// Only the connection's read goroutine touches a limiter, so there is
// no lock.
type inboundLimiter struct {
	now func() time.Time

	msgRate   int64 // messages per second; 0 disables
	msgTokens int64

	byteRate   int64 // bytes per second; 0 disables
	byteTokens int64

	burstSeconds int64
	lastRefill   time.Time
}

// newInboundLimiter returns nil when both rates are off; a nil limiter
// allows everything.
func newInboundLimiter(msgRate int, byteRate int64, burstSeconds int, now func() time.Time) *inboundLimiter {
	if msgRate <= 0 && byteRate <= 0 {
		return nil
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	if now == nil {
		now = time.Now
	}
	l := &inboundLimiter{
		now:          now,
		msgRate:      int64(msgRate),
		byteRate:     byteRate,
		burstSeconds: int64(burstSeconds),
		lastRefill:   now(),
	}
	l.msgTokens = l.msgRate * l.burstSeconds
	l.byteTokens = l.byteRate * l.burstSeconds
	return l
}

// Allow reports whether one frame of the given size fits the budget,
// deducting it when it does.
func (l *inboundLimiter) Allow(bytes int) bool {
	if l == nil {
		return true
	}
	l.refill()
	if l.msgRate > 0 && l.msgTokens < 1 {
		return false
	}
	if l.byteRate > 0 && l.byteTokens < int64(bytes) {
		return false
	}
	if l.msgRate > 0 {
		l.msgTokens--
	}
	if l.byteRate > 0 {
		l.byteTokens -= int64(bytes)
	}
	return true
}

func (l *inboundLimiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}
	l.lastRefill = now

	if l.msgRate > 0 {
		l.msgTokens += elapsed.Nanoseconds() * l.msgRate / int64(time.Second)
		if limit := l.msgRate * l.burstSeconds; l.msgTokens > limit {
			l.msgTokens = limit
		}
	}
	if l.byteRate > 0 {
		l.byteTokens += elapsed.Nanoseconds() * l.byteRate / int64(time.Second)
		if limit := l.byteRate * l.burstSeconds; l.byteTokens > limit {
			l.byteTokens = limit
		}
	}
}
