package crawler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
)

// archiver stores the raw body of changed documents under
// <prefix>/<source>/<urlhash>/<contenthash>.<ext>.
type archiver struct {
	store  ingest.BlobStore
	hasher ingest.Hasher
	prefix string
}

func newArchiver(store ingest.BlobStore, hasher ingest.Hasher, prefix string) *archiver {
	return &archiver{
		store:  store,
		hasher: hasher,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Store writes content and returns the object URI reported by the blob store.
func (a *archiver) Store(ctx context.Context, source, url, contentHash string, content ingest.FetchedContent) (string, error) {
	if len(content.Body) == 0 {
		return "", nil
	}
	urlHash, err := a.urlHash(url)
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	if contentHash == "" {
		contentHash = "unknown"
	}
	object := path.Join(a.prefix, source, urlHash, contentHash+"."+extension(content.Kind))
	contentType := content.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	uri, err := a.store.PutObject(ctx, object, contentType, bytes.NewReader(content.Body))
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", object, err)
	}
	return uri, nil
}

func (a *archiver) urlHash(url string) (string, error) {
	if a.hasher != nil {
		sum, err := a.hasher.Hash([]byte(url))
		if err != nil {
			return "", err
		}
		return sum[:min(len(sum), 16)], nil
	}
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8]), nil
}

func extension(kind ingest.ContentKind) string {
	switch kind {
	case ingest.KindPDF:
		return "pdf"
	case ingest.KindHTML:
		return "html"
	default:
		return "bin"
	}
}
