package timeline

import (
	"sync"
	"testing"
	"time"

	"github.com/zsiec/camreplay/internal/clock"
)

type commits struct {
	got  []int64
	gens []uint64
}

func (c *commits) commit(gen uint64, ms int64) {
	c.got = append(c.got, ms)
	c.gens = append(c.gens, gen)
}

func TestScrubberDebouncesAndQuantizes(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(0, 0))
	c := &commits{}
	s := NewScrubber(clk, 0, 0, c.commit)

	for _, ms := range []int64{1010, 1230, 1499, 61789} {
		s.Move(ms)
		clk.Advance(50 * time.Millisecond)
	}
	if len(c.got) != 0 {
		t.Fatalf("commits during gesture: got %v, want none", c.got)
	}
	if !s.Active() {
		t.Error("scrubber should be active mid-gesture")
	}

	clk.Advance(70 * time.Millisecond)
	if len(c.got) != 1 || c.got[0] != 61700 {
		t.Fatalf("commits after rest: got %v, want [61700]", c.got)
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers: got %d, want 0", clk.Pending())
	}
}

func TestScrubberSkipsRepeatedQuantum(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(0, 0))
	c := &commits{}
	s := NewScrubber(clk, 100*time.Millisecond, 120*time.Millisecond, c.commit)

	s.Move(2010)
	clk.Advance(200 * time.Millisecond)
	s.Move(2090)
	clk.Advance(200 * time.Millisecond)

	if len(c.got) != 1 || c.got[0] != 2000 {
		t.Fatalf("commits: got %v, want [2000]", c.got)
	}
}

func TestScrubberReleaseIsImmediateAndExact(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(0, 0))
	c := &commits{}
	s := NewScrubber(clk, 100*time.Millisecond, 120*time.Millisecond, c.commit)

	s.Move(5_432)
	s.Release(5_467)

	if len(c.got) != 1 || c.got[0] != 5_467 {
		t.Fatalf("commits: got %v, want [5467]", c.got)
	}
	if s.Active() {
		t.Error("scrubber should be inactive after release")
	}

	clk.Advance(time.Second)
	if len(c.got) != 1 {
		t.Errorf("debounce fired after release: %v", c.got)
	}
}

func TestScrubberCancel(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(0, 0))
	c := &commits{}
	s := NewScrubber(clk, 0, 0, c.commit)

	s.Move(900)
	s.Cancel()
	clk.Advance(time.Second)
	if len(c.got) != 0 {
		t.Errorf("commits after cancel: got %v, want none", c.got)
	}
}

func TestQuantize(t *testing.T) {
	t.Parallel()

	s := NewScrubber(clock.NewManual(time.Unix(0, 0)), 100*time.Millisecond, 0, func(uint64, int64) {})
	for _, tt := range []struct{ in, want int64 }{{0, 0}, {-10, 0}, {99, 0}, {100, 100}, {1999, 1900}} {
		if got := s.Quantize(tt.in); got != tt.want {
			t.Errorf("Quantize(%d): got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestScrubberDelayedCommitLosesToRelease(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(0, 0))
	entered := make(chan struct{})
	hold := make(chan struct{})

	var (
		mu      sync.Mutex
		order   []int64
		applied int64
		lastGen uint64
	)
	s := NewScrubber(clk, 100*time.Millisecond, 120*time.Millisecond, func(gen uint64, ms int64) {
		if ms == 1200 {
			close(entered)
			<-hold
		}
		mu.Lock()
		defer mu.Unlock()
		order = append(order, ms)
		if gen < lastGen {
			return
		}
		lastGen, applied = gen, ms
	})

	s.Move(1234)
	fired := make(chan struct{})
	go func() {
		defer close(fired)
		clk.Advance(120 * time.Millisecond)
	}()
	<-entered

	s.Release(1234)
	close(hold)
	<-fired

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1234 || order[1] != 1200 {
		t.Fatalf("commit order: got %v, want [1234 1200]", order)
	}
	if applied != 1234 {
		t.Errorf("applied position: got %d, want released 1234", applied)
	}
}

func TestScrubberGenerationsIncrease(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(0, 0))
	c := &commits{}
	s := NewScrubber(clk, 0, 0, c.commit)

	s.Move(700)
	clk.Advance(time.Second)
	s.Release(750)
	cancelled := s.Cancel()

	if len(c.gens) != 2 || c.gens[0] >= c.gens[1] {
		t.Fatalf("generations: got %v, want strictly increasing pair", c.gens)
	}
	if cancelled <= c.gens[1] {
		t.Errorf("Cancel generation %d not above release %d", cancelled, c.gens[1])
	}
}
