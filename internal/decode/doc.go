// Package decode owns the decoder resource of one stream and exposes a
// coalescing "show frame N" operation.
//
// A [Pipeline] runs at most one keyframe-anchored decode run at a time. While
// a run is in flight, further requests overwrite a single pending slot, so a
// burst of requests costs at most one extra run and the picture left on screen
// is always the most recently requested one. Decoder instances are created per
// run and closed when the run ends or the pipeline is released.
package decode
