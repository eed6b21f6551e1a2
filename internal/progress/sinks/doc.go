// Package sinks contains progress.Sink implementations that persist run
// change events or write them to structured logs.
package sinks
