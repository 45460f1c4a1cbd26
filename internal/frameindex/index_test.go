package frameindex

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/zsiec/camreplay/internal/media"
)

func framesAt(keyEvery int, ts ...int64) []media.Frame {
	frames := make([]media.Frame, len(ts))
	for i, t := range ts {
		frames[i] = media.Frame{
			TimestampMs: t,
			DurationMs:  33,
			IsKeyframe:  keyEvery > 0 && i%keyEvery == 0,
		}
	}
	return frames
}

func TestNewNormalizesDuration(t *testing.T) {
	t.Parallel()

	idx, err := New([]media.Frame{
		{TimestampMs: 0, IsKeyframe: true},
		{TimestampMs: 33, DurationMs: -5},
		{TimestampMs: 66, DurationMs: 40},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i, want := range []int64{33, 33, 40} {
		f, err := idx.Frame(i)
		if err != nil {
			t.Fatalf("Frame(%d): %v", i, err)
		}
		if f.DurationMs != want {
			t.Errorf("frame %d duration: got %d, want %d", i, f.DurationMs, want)
		}
	}
	if got := idx.DurationMs(); got != 106 {
		t.Errorf("DurationMs: got %d, want 106", got)
	}
}

func TestNewRejectsUnsorted(t *testing.T) {
	t.Parallel()

	_, err := New(framesAt(1, 0, 66, 33))
	if !errors.Is(err, ErrUnsorted) {
		t.Fatalf("expected ErrUnsorted, got %v", err)
	}
}

func TestNewRejectsStreamWithoutKeyframe(t *testing.T) {
	t.Parallel()

	_, err := New(framesAt(0, 0, 33, 66))
	if !errors.Is(err, ErrNoKeyframe) {
		t.Fatalf("expected ErrNoKeyframe, got %v", err)
	}
}

func TestEmptyIndex(t *testing.T) {
	t.Parallel()

	idx, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil): %v", err)
	}
	if !idx.Empty() {
		t.Error("expected empty index")
	}
	if got := idx.Floor(1000); got != 0 {
		t.Errorf("Floor on empty: got %d, want 0", got)
	}
	if idx.DurationMs() != 0 {
		t.Errorf("DurationMs on empty: got %d, want 0", idx.DurationMs())
	}
	if _, err := idx.KeyframeAtOrBefore(0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("KeyframeAtOrBefore on empty: got %v, want ErrOutOfRange", err)
	}
}

func TestFloor(t *testing.T) {
	t.Parallel()

	idx, err := New(framesAt(1, 100, 133, 166, 166, 200))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		ts   int64
		want int
	}{
		{0, 0},
		{99, 0},
		{100, 0},
		{132, 0},
		{133, 1},
		{166, 3},
		{199, 3},
		{200, 4},
		{10_000, 4},
	}
	for _, tt := range tests {
		if got := idx.Floor(tt.ts); got != tt.want {
			t.Errorf("Floor(%d): got %d, want %d", tt.ts, got, tt.want)
		}
	}
}

func TestFloorMatchesLinearScan(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(40)
		ts := make([]int64, n)
		for i := range ts {
			ts[i] = int64(rng.Intn(2000))
		}
		sort.Slice(ts, func(a, b int) bool { return ts[a] < ts[b] })

		idx, err := New(framesAt(1, ts...))
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		for q := int64(-5); q < 2010; q += 7 {
			want := 0
			for i := range ts {
				if ts[i] <= q {
					want = i
				}
			}
			if got := idx.Floor(q); got != want {
				t.Fatalf("round %d Floor(%d): got %d, want %d (ts=%v)", round, q, got, want, ts)
			}
		}
	}
}

func TestFloorMonotonic(t *testing.T) {
	t.Parallel()

	idx, err := New(framesAt(1, 0, 36, 70, 105, 140, 171))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	prev := -1
	for q := int64(0); q < 250; q += 3 {
		got := idx.Floor(q)
		if got < prev {
			t.Fatalf("Floor(%d) = %d went backwards from %d", q, got, prev)
		}
		prev = got
	}
}

func TestKeyframeAtOrBefore(t *testing.T) {
	t.Parallel()

	frames := framesAt(0, 0, 33, 66, 99, 132, 165)
	frames[1].IsKeyframe = true
	frames[4].IsKeyframe = true

	idx, err := New(frames)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if idx.FirstKeyframe() != 1 {
		t.Errorf("FirstKeyframe: got %d, want 1", idx.FirstKeyframe())
	}

	tests := []struct {
		target int
		want   int
	}{
		{1, 1},
		{3, 1},
		{4, 4},
		{5, 4},
	}
	for _, tt := range tests {
		got, err := idx.KeyframeAtOrBefore(tt.target)
		if err != nil {
			t.Fatalf("KeyframeAtOrBefore(%d): %v", tt.target, err)
		}
		if got != tt.want {
			t.Errorf("KeyframeAtOrBefore(%d): got %d, want %d", tt.target, got, tt.want)
		}
	}

	if _, err := idx.KeyframeAtOrBefore(0); !errors.Is(err, ErrNoKeyframeFound) {
		t.Errorf("KeyframeAtOrBefore(0): got %v, want ErrNoKeyframeFound", err)
	}
	if _, err := idx.KeyframeAtOrBefore(6); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("KeyframeAtOrBefore(6): got %v, want ErrOutOfRange", err)
	}
}
