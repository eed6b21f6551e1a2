// Package crawler runs the web crawl pipeline: per-site traversal over a
// bounded frontier, fetching, change-aware indexing and optional archiving of
// changed content.
package crawler
