// Package playback is the cooperative scheduler that drives frame-accurate
// replay of one clip or of a multi-segment collection.
//
// A [Controller] owns every piece of mutable playback state: mode, cursor,
// load token, the single step timer, and the decode pipelines of the active
// streams. All of it is touched only from the goroutine running
// [Controller.Run]. Public methods, timer firings, segment load completions,
// and decode failures are all posted to that goroutine as events, so no
// state is shared with decode or load goroutines.
//
// Cancellation is explicit and typed: an asynchronous segment load captures
// the load token when it starts and its result is dropped if the token has
// moved on, and each timer firing carries the generation it was scheduled
// under so a cancelled timer can never advance playback.
package playback
