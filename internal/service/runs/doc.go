// Package runs implements the run execution lifecycle.
//
// States:
//   - QUEUED -> RUNNING -> SUCCEEDED | FAILED
//   - QUEUED | RUNNING -> CANCELED
//   - FAILED -> RUNNING (direct restart) or FAILED -> QUEUED (re-enqueue)
//
// Synchronous starts and queued jobs both go through Execute. Every status
// change is a compare-and-set on the run store: an execution request for a
// run that is not QUEUED or FAILED is rejected without mutating the run, and
// a training that outlives a cancellation cannot overwrite CANCELED.
//
// Once a run is RUNNING every failure, including a panic in the training
// path, ends in FAILED with the message recorded. No retries happen here.
package runs
