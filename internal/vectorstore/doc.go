// Package vectorstore groups the ingest.VectorStore implementations: a Qdrant
// REST adapter for production and an in-memory store for local runs and tests.
package vectorstore
