// Package ingest defines the types and interfaces shared by the crawl pipeline,
// the social feed pipeline, the indexer and the vector store adapters.
package ingest
