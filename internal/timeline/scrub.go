package timeline

import (
	"sync"
	"time"

	"github.com/zsiec/camreplay/internal/clock"
)

// Scrub coalescing defaults.
const (
	DefaultScrubQuantum  = 100 * time.Millisecond
	DefaultScrubDebounce = 120 * time.Millisecond
)

// Scrubber coalesces a drag gesture into few seeks. Positions are quantized
// and committed only after the gesture has rested for the debounce delay;
// Release commits the exact final position immediately.
type Scrubber struct {
	clock   clock.Clock
	quantum int64
	delay   time.Duration
	commit  func(gen uint64, ms int64)

	mu        sync.Mutex
	timer     clock.Timer
	gen       uint64
	active    bool
	committed int64
	hasCommit bool
}

// NewScrubber returns a Scrubber that calls commit with settled positions.
// commit runs on the clock's timer goroutine for debounced positions and on
// the caller's goroutine for Release, so calls may arrive out of order. gen
// grows with every Move, Release and Cancel; a commit whose gen is lower than
// one already applied is stale and must be dropped.
func NewScrubber(c clock.Clock, quantum, delay time.Duration, commit func(gen uint64, ms int64)) *Scrubber {
	if quantum <= 0 {
		quantum = DefaultScrubQuantum
	}
	if delay <= 0 {
		delay = DefaultScrubDebounce
	}
	return &Scrubber{
		clock:   c,
		quantum: quantum.Milliseconds(),
		delay:   delay,
		commit:  commit,
	}
}

// Quantize rounds ms down to the scrub granularity.
func (s *Scrubber) Quantize(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return ms / s.quantum * s.quantum
}

// Move records an intermediate gesture position and restarts the debounce.
// It returns the quantized position that will be committed.
func (s *Scrubber) Move(ms int64) int64 {
	q := s.Quantize(ms)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.stopLocked()
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.delay, func() { s.fire(gen, q) })
	return q
}

// Release ends the gesture and commits ms without quantization or delay.
func (s *Scrubber) Release(ms int64) {
	s.mu.Lock()
	s.active = false
	s.stopLocked()
	s.gen++
	gen := s.gen
	s.committed, s.hasCommit = ms, true
	s.mu.Unlock()

	s.commit(gen, ms)
}

// Cancel abandons the gesture without committing. It returns the new
// generation; any commit still in flight carries a lower one.
func (s *Scrubber) Cancel() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.stopLocked()
	s.gen++
	return s.gen
}

// Active reports whether a gesture is in progress.
func (s *Scrubber) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scrubber) fire(gen uint64, q int64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.hasCommit && s.committed == q {
		s.mu.Unlock()
		return
	}
	s.committed, s.hasCommit = q, true
	s.mu.Unlock()

	s.commit(gen, q)
}

func (s *Scrubber) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
