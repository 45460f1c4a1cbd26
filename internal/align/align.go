// Package align maps the master stream's timestamp onto every secondary
// stream using the floor rule: a secondary shows the latest frame whose
// timestamp does not exceed the master's, so it may lag by up to one of its
// own frame periods but never shows a frame from the future.
package align

import (
	"github.com/zsiec/camreplay/internal/frameindex"
	"github.com/zsiec/camreplay/internal/media"
)

// Target is a secondary stream that can be driven by the aligner.
// *decode.Pipeline satisfies it.
type Target interface {
	Camera() media.Camera
	Index() *frameindex.Index
	RequestFrame(index int)
}

// Floor returns, for each index, the floor frame for timestamp ts.
func Floor(ts int64, indexes ...*frameindex.Index) []int {
	out := make([]int, len(indexes))
	for i, idx := range indexes {
		out[i] = idx.Floor(ts)
	}
	return out
}

// Aligner drives the secondary streams of one recording from the master.
type Aligner struct {
	master  media.Camera
	targets []Target
}

// New returns an Aligner for the given master camera. Targets whose camera
// equals master are skipped by Align.
func New(master media.Camera, targets ...Target) *Aligner {
	return &Aligner{master: master, targets: targets}
}

// Master returns the master camera.
func (a *Aligner) Master() media.Camera {
	return a.master
}

// Align requests the floor frame for masterTs on every secondary target with
// data and returns the requested index per camera.
func (a *Aligner) Align(masterTs int64) map[media.Camera]int {
	requested := make(map[media.Camera]int, len(a.targets))
	for _, t := range a.targets {
		if t.Camera() == a.master {
			continue
		}
		idx := t.Index()
		if idx == nil || idx.Empty() {
			continue
		}
		i := idx.Floor(masterTs)
		t.RequestFrame(i)
		requested[t.Camera()] = i
	}
	return requested
}
