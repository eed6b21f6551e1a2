// Package store defines interfaces for persisting run history and the per-run
// change log. Implementations live in other packages; this package must not
// import database drivers or concrete clients.
package store
