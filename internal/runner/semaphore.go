package runner

import "context"

// Semaphore bounds the number of containers alive at once across every
// group. It is implemented as a buffered channel used purely as a permit
// pool; Go's runtime serves goroutines blocked on a channel send in the
// order they started waiting, which gives the fair-FIFO acquisition the
// spec requires without a separate wait queue.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a semaphore with n permits (MAX_CONCURRENT_CONTAINERS).
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	return &Semaphore{slots: make(chan struct{}, n)}
}

// Acquire blocks until a permit is available or ctx is cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit to the pool. Must be called exactly once per
// successful Acquire, for the entire lifetime of the container it gates.
func (s *Semaphore) Release() {
	<-s.slots
}

// InUse reports the number of permits currently held, for metrics.
func (s *Semaphore) InUse() int {
	return len(s.slots)
}

// Capacity reports the total number of permits.
func (s *Semaphore) Capacity() int {
	return cap(s.slots)
}
