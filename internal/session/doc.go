// Package session owns the permission-gated camera lifecycle for one scan
// session.
//
// Ownership boundary:
// - when the camera resource is created, started, stopped and released
// - the single outstanding runtime-permission request
// - the one terminal outcome handed back to the host
//
// Host callbacks (visibility, permission answers, detections) only enqueue.
// Controller.Run is the single consumer and applies each event atomically, so
// state is written from one goroutine only.
//
// Lifecycle order:
// - awaiting_permission -> permission_pending -> ready -> starting -> running
//
// - running <-> paused follows visibility; a failed start releases the
//   resource and returns to ready without retrying.
//
// - ended is terminal and reached on a result or on destroy.
package session
