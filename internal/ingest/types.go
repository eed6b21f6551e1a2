package ingest

import (
	"net/http"
	"time"
)

// ContentKind classifies the origin format of a document's text.
type ContentKind string

// Supported content kinds.
const (
	KindHTML ContentKind = "html"
	KindPDF  ContentKind = "pdf"
	KindPost ContentKind = "post"
)

// FetchStatus is the explicit outcome of a fetch attempt.
type FetchStatus int

// Fetch outcomes. Errors are reported separately.
const (
	// FetchContent means the fetch produced non-blank text.
	FetchContent FetchStatus = iota
	// FetchEmpty means the document was retrieved but had no extractable text.
	FetchEmpty
	// FetchSkipped means the response was not a supported document type.
	FetchSkipped
)

func (s FetchStatus) String() string {
	switch s {
	case FetchContent:
		return "content"
	case FetchEmpty:
		return "empty"
	case FetchSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
}

// FetchedContent is the normalized result of fetching and extracting one URL.
type FetchedContent struct {
	URL         string
	FinalURL    string
	Title       string
	Text        string
	Kind        ContentKind
	ContentType string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Links       []string
	FetchedAt   time.Time
}

// FetchResult pairs an outcome with the extracted content, if any.
type FetchResult struct {
	Status  FetchStatus
	Content FetchedContent
	// Reason carries a short explanation for Empty and Skipped outcomes.
	Reason string
}

// Document is one logical unit of text handed to the indexer.
type Document struct {
	Source string
	URL    string
	Title  string
	Text   string
	Kind   ContentKind
	// Extra is merged into every chunk's payload (e.g. post_id, published_at).
	Extra map[string]any
}

// Chunk is a token-bounded slice of a document.
type Chunk struct {
	ID    string
	Index int
	Text  string
}

// Point is a chunk ready to be written to the vector store.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Fingerprint is the stored change-detection record for a (source, url).
type Fingerprint struct {
	ContentHash string
	ContentLen  int
	CrawledAt   time.Time
}

// FieldSchema identifies the payload index type requested from the store.
type FieldSchema string

// Payload index schemas.
const (
	SchemaKeyword FieldSchema = "keyword"
	SchemaInteger FieldSchema = "integer"
)

// Payload field names shared by every writer and the retention cleanup.
const (
	FieldText           = "text"
	FieldSource         = "source"
	FieldURL            = "url"
	FieldTitle          = "title"
	FieldChunkIndex     = "chunk_index"
	FieldChunkCount     = "chunk_count"
	FieldContentHash    = "content_hash"
	FieldContentLen     = "content_len"
	FieldContentKind    = "content_kind"
	FieldCrawledAt      = "crawled_at"
	FieldCrawledAtEpoch = "crawled_at_epoch"
	FieldPostID         = "post_id"
	FieldPublishedAt    = "published_at"
	FieldPageID         = "page_id"
)

// RequiredIndexes lists the payload indexes every run ensures before writing.
var RequiredIndexes = []struct {
	Field  string
	Schema FieldSchema
}{
	{Field: FieldSource, Schema: SchemaKeyword},
	{Field: FieldURL, Schema: SchemaKeyword},
	{Field: FieldCrawledAtEpoch, Schema: SchemaInteger},
}
