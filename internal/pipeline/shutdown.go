package pipeline

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// Shutdown is the process-wide cancellation signal. It starts false and is
// set true at most once, never reset. Stages poll IsSet at loop boundaries
// and select on Done to abandon a blocked channel operation.
type Shutdown struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

func NewShutdown() *Shutdown {
	return &Shutdown{done: make(chan struct{})}
}

// Set flips the signal. Safe to call from any goroutine, any number of times.
func (s *Shutdown) Set() {
	s.once.Do(func() {
		s.set.Store(true)
		close(s.done)
	})
}

// IsSet reports whether shutdown has been requested.
func (s *Shutdown) IsSet() bool {
	return s.set.Load()
}

// Done returns a channel that is closed once shutdown has been requested.
func (s *Shutdown) Done() <-chan struct{} {
	return s.done
}

// NotifyOnInterrupt sets the shutdown signal when SIGINT or SIGTERM arrives.
// The returned stop function releases the signal registration.
func (s *Shutdown) NotifyOnInterrupt() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ch:
			s.Set()
		case <-s.done:
		}
	}()

	return func() { signal.Stop(ch) }
}
