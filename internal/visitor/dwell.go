package visitor

import "time"

// Stopwatch is a pausable elapsed-time accumulator driven by explicit
// timestamps, so cycles can be replayed deterministically.
type Stopwatch struct {
	running   bool
	startedAt time.Time
	elapsed   time.Duration
}

// Start begins accumulating from now. It is a no-op while running.
func (s *Stopwatch) Start(now time.Time) {
	if s.running {
		return
	}
	s.running = true
	s.startedAt = now
}

// Stop pauses accumulation, keeping the elapsed time.
func (s *Stopwatch) Stop(now time.Time) {
	if !s.running {
		return
	}
	s.elapsed += nonNegative(now.Sub(s.startedAt))
	s.running = false
}

// Reset stops the stopwatch and discards accumulated time.
func (s *Stopwatch) Reset() {
	s.running = false
	s.elapsed = 0
	s.startedAt = time.Time{}
}

// Running reports whether the stopwatch is accumulating.
func (s *Stopwatch) Running() bool {
	return s.running
}

// Elapsed returns the accumulated time as of now.
func (s *Stopwatch) Elapsed(now time.Time) time.Duration {
	if !s.running {
		return s.elapsed
	}
	return s.elapsed + nonNegative(now.Sub(s.startedAt))
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
