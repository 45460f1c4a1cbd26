package decode_test

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/camreplay/internal/decode"
	"github.com/zsiec/camreplay/internal/decode/decodetest"
	"github.com/zsiec/camreplay/internal/frameindex"
	"github.com/zsiec/camreplay/internal/media"
)

// renderLog collects rendered pictures and reported errors.
type renderLog struct {
	mu       sync.Mutex
	pictures []media.Picture
	errs     []error
}

func (r *renderLog) render(p media.Picture) {
	r.mu.Lock()
	r.pictures = append(r.pictures, p)
	r.mu.Unlock()
}

func (r *renderLog) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *renderLog) targets() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.pictures))
	for i, p := range r.pictures {
		out[i] = p.FrameIndex
	}
	return out
}

func (r *renderLog) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// buildIndex returns n frames 33ms apart with a keyframe every keyEvery frames.
func buildIndex(t *testing.T, n, keyEvery int) *frameindex.Index {
	t.Helper()
	frames := make([]media.Frame, n)
	for i := range frames {
		frames[i] = media.Frame{
			TimestampMs: int64(i) * 33,
			DurationMs:  33,
			IsKeyframe:  i%keyEvery == 0,
		}
	}
	idx, err := frameindex.New(frames)
	if err != nil {
		t.Fatalf("frameindex.New: %v", err)
	}
	return idx
}

func newPipeline(t *testing.T, idx *frameindex.Index, fake *decodetest.Fake, log *renderLog) *decode.Pipeline {
	t.Helper()
	p := decode.New(context.Background(), decode.Config{
		Camera:     media.CameraFront,
		Index:      idx,
		NewDecoder: fake.Factory(),
		Render:     log.render,
		OnError:    log.onError,
	})
	t.Cleanup(p.Release)
	return p
}

func waitIdle(t *testing.T, p *decode.Pipeline) {
	t.Helper()
	select {
	case <-p.Idle():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pipeline to go idle")
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for decode to start")
	}
}

func TestRequestFrameDecodesFromKeyframe(t *testing.T) {
	t.Parallel()

	fake := decodetest.New()
	log := &renderLog{}
	p := newPipeline(t, buildIndex(t, 12, 4), fake, log)

	p.RequestFrame(6)
	waitIdle(t, p)

	runs := fake.Runs()
	if len(runs) != 1 {
		t.Fatalf("runs: got %d, want 1", len(runs))
	}
	want := []int64{132, 165, 198}
	if len(runs[0]) != len(want) {
		t.Fatalf("decoded: got %v, want %v", runs[0], want)
	}
	for i := range want {
		if runs[0][i] != want[i] {
			t.Fatalf("decoded: got %v, want %v", runs[0], want)
		}
	}

	if got := log.targets(); len(got) != 1 || got[0] != 6 {
		t.Errorf("rendered: got %v, want [6]", got)
	}
	if fake.Closed() != 1 {
		t.Errorf("closed decoders: got %d, want 1", fake.Closed())
	}
}

func TestBurstCoalescesToLatest(t *testing.T) {
	t.Parallel()

	fake := decodetest.New()
	log := &renderLog{}
	p := newPipeline(t, buildIndex(t, 12, 4), fake, log)

	started, release := fake.Hold()
	p.RequestFrame(3)
	waitClosed(t, started)

	p.RequestFrame(5)
	p.RequestFrame(9)
	p.RequestFrame(2)
	if !p.Busy() {
		t.Fatal("pipeline should be busy while the first run is held")
	}
	release()
	waitIdle(t, p)

	got := log.targets()
	if len(got) != 2 || got[0] != 3 || got[1] != 2 {
		t.Fatalf("rendered: got %v, want [3 2]", got)
	}
	if fake.Created() != 2 {
		t.Errorf("decode runs: got %d, want 2", fake.Created())
	}

	stats := p.Stats()
	if stats.Runs != 2 {
		t.Errorf("Stats.Runs: got %d, want 2", stats.Runs)
	}
	if stats.Coalesced != 2 {
		t.Errorf("Stats.Coalesced: got %d, want 2", stats.Coalesced)
	}
	if stats.Renders != 2 {
		t.Errorf("Stats.Renders: got %d, want 2", stats.Renders)
	}
}

func TestRenderOnlyFinalPicture(t *testing.T) {
	t.Parallel()

	fake := decodetest.New()
	fake.SetBuffered(true)
	log := &renderLog{}
	p := newPipeline(t, buildIndex(t, 8, 8), fake, log)

	p.RequestFrame(5)
	waitIdle(t, p)

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.pictures) != 1 {
		t.Fatalf("rendered: got %d pictures, want 1", len(log.pictures))
	}
	pic := log.pictures[0]
	if pic.TimestampMs != 165 {
		t.Errorf("TimestampMs: got %d, want 165", pic.TimestampMs)
	}
	gray, ok := pic.Image.(*image.Gray)
	if !ok {
		t.Fatalf("image type: got %T, want *image.Gray", pic.Image)
	}
	if gray.GrayAt(0, 0).Y != 165 {
		t.Errorf("picture is not the target frame: gray %d, want 165", gray.GrayAt(0, 0).Y)
	}
}

func TestDecodeErrorReportedAndPipelineRecovers(t *testing.T) {
	t.Parallel()

	fake := decodetest.New()
	boom := errors.New("bitstream corrupt")
	fake.FailAt(66, boom)
	log := &renderLog{}
	p := newPipeline(t, buildIndex(t, 8, 4), fake, log)

	p.RequestFrame(3)
	waitIdle(t, p)

	errs := log.errors()
	if len(errs) != 1 {
		t.Fatalf("errors: got %d, want 1", len(errs))
	}
	var runErr *decode.RunError
	if !errors.As(errs[0], &runErr) {
		t.Fatalf("error type: got %T, want *decode.RunError", errs[0])
	}
	if runErr.Target != 3 || runErr.Camera != media.CameraFront {
		t.Errorf("RunError: got camera=%s target=%d", runErr.Camera, runErr.Target)
	}
	if !errors.Is(errs[0], boom) {
		t.Errorf("error should wrap cause: %v", errs[0])
	}
	if len(log.targets()) != 0 {
		t.Errorf("failed run must not render, got %v", log.targets())
	}
	if p.Busy() {
		t.Error("pipeline stuck in flight after error")
	}

	p.RequestFrame(5)
	waitIdle(t, p)
	if got := log.targets(); len(got) != 1 || got[0] != 5 {
		t.Errorf("rendered after recovery: got %v, want [5]", got)
	}
}

func TestNoKeyframeFound(t *testing.T) {
	t.Parallel()

	frames := []media.Frame{
		{TimestampMs: 0},
		{TimestampMs: 33},
		{TimestampMs: 66, IsKeyframe: true},
	}
	idx, err := frameindex.New(frames)
	if err != nil {
		t.Fatalf("frameindex.New: %v", err)
	}

	fake := decodetest.New()
	log := &renderLog{}
	p := newPipeline(t, idx, fake, log)

	p.RequestFrame(1)
	waitIdle(t, p)

	errs := log.errors()
	if len(errs) != 1 || !errors.Is(errs[0], frameindex.ErrNoKeyframeFound) {
		t.Fatalf("errors: got %v, want ErrNoKeyframeFound", errs)
	}
	if fake.Created() != 0 {
		t.Errorf("no decoder should be created, got %d", fake.Created())
	}
}

func TestFactoryErrorIsResourceError(t *testing.T) {
	t.Parallel()

	fake := decodetest.New()
	fake.FailFactory(errors.New("unsupported profile"))
	log := &renderLog{}
	p := newPipeline(t, buildIndex(t, 4, 4), fake, log)

	p.RequestFrame(2)
	waitIdle(t, p)

	errs := log.errors()
	if len(errs) != 1 {
		t.Fatalf("errors: got %d, want 1", len(errs))
	}
	var resErr *decode.ResourceError
	if !errors.As(errs[0], &resErr) {
		t.Fatalf("error should contain *decode.ResourceError, got %v", errs[0])
	}
}

func TestReleaseSuppressesInFlightError(t *testing.T) {
	t.Parallel()

	fake := decodetest.New()
	log := &renderLog{}
	p := newPipeline(t, buildIndex(t, 8, 4), fake, log)

	started, release := fake.Hold()
	defer release()
	p.RequestFrame(2)
	waitClosed(t, started)
	p.RequestFrame(6)

	p.Release()
	waitIdle(t, p)

	if errs := log.errors(); len(errs) != 0 {
		t.Errorf("cancellation must not be reported, got %v", errs)
	}
	if got := log.targets(); len(got) != 0 {
		t.Errorf("released pipeline must not render, got %v", got)
	}
	stats := p.Stats()
	if stats.Suppressed != 1 {
		t.Errorf("Stats.Suppressed: got %d, want 1", stats.Suppressed)
	}
	if stats.Runs != 1 {
		t.Errorf("pending request must be dropped on release, runs=%d", stats.Runs)
	}
	if fake.Closed() != 1 {
		t.Errorf("active decoder should be closed once, got %d", fake.Closed())
	}

	p.RequestFrame(1)
	if p.Busy() {
		t.Error("released pipeline must ignore requests")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	t.Parallel()

	fake := decodetest.New()
	p := newPipeline(t, buildIndex(t, 4, 4), fake, &renderLog{})
	p.Release()
	p.Release()
}
