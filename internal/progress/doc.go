// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces that job runners use to report publishing progress. It
// batches events on a background goroutine and fans them out to pluggable
// sinks such as Prometheus metrics, structured logs, or live subscribers.
package progress
