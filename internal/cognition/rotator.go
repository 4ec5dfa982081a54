package cognition

import "sync/atomic"

// Rotator is the credential cursor shared by every concurrent analysis.
// It only balances load: two callers may briefly read the same position.
type Rotator struct {
	size int
	pos  atomic.Uint64
}

// NewRotator returns a cursor over a pool of size credentials.
func NewRotator(size int) *Rotator {
	if size < 1 {
		size = 1
	}
	return &Rotator{size: size}
}

// Size is the pool size.
func (r *Rotator) Size() int { return r.size }

// Current returns the index of the credential to use next.
func (r *Rotator) Current() int {
	return int(r.pos.Load() % uint64(r.size))
}

// Advance moves the cursor one position and returns the new index.
func (r *Rotator) Advance() int {
	return int(r.pos.Add(1) % uint64(r.size))
}
