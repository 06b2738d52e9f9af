package lock

import "sync/atomic"

// Guard prevents a job from overlapping itself inside one process.
type Guard struct {
	running atomic.Bool
}

// TryRun runs fn unless a previous call is still in progress.
// It reports whether fn ran.
func (g *Guard) TryRun(fn func()) bool {
	if !g.running.CompareAndSwap(false, true) {
		return false
	}
	defer g.running.Store(false)
	fn()
	return true
}

// Running reports whether a guarded call is in progress.
func (g *Guard) Running() bool {
	return g.running.Load()
}
