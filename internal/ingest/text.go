package ingest

import "strings"

// NormalizeText collapses every run of whitespace into a single space and
// trims the result. Fingerprints are always computed over normalized text.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
