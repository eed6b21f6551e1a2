// Package progress carries document-level change events out of a run. The
// indexer and crawler emit through a non-blocking Hub that batches events on
// a background goroutine and fans them out to sinks such as the run change
// log or structured logs.
package progress
