// Package uuid provides run ids and deterministic chunk ids.
package uuid

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// chunkNamespace scopes chunk ids so they never collide with other UUIDv5
// users of the same collection.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:retail-content-ingestor:chunk"))

// Generator creates UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// ChunkID derives the stable id of chunk index of (source, url). The same
// inputs yield the same id across runs and process restarts.
func ChunkID(source, url string, index int) string {
	name := source + "\x00" + url + "\x00chunk\x00" + strconv.Itoa(index)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}
