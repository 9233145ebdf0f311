package lifecycle

import "sync/atomic"

// Lifecycle is a tiny process state holder shared across handlers. During
// graceful shutdown the server flips it to draining so the readiness probe
// starts failing and new meeting joins are refused while live rooms wind
// down.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
