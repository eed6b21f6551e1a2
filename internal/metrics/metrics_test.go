package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if ingestPagesTotal == nil || ingestDocumentsTotal == nil || ingestTasksTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservePage(t *testing.T) {
	Init()
	before := testutil.ToFloat64(ingestPagesTotal.WithLabelValues("metrics-site", "content"))
	bytesBefore := testutil.ToFloat64(ingestFetchBytesTotal.WithLabelValues("metrics-site"))

	ObservePage("metrics-site", "content", 512)
	ObservePage("metrics-site", "content", 0)

	if got := testutil.ToFloat64(ingestPagesTotal.WithLabelValues("metrics-site", "content")); got != before+2 {
		t.Errorf("expected %f pages, got %f", before+2, got)
	}
	if got := testutil.ToFloat64(ingestFetchBytesTotal.WithLabelValues("metrics-site")); got != bytesBefore+512 {
		t.Errorf("expected %f bytes, got %f", bytesBefore+512, got)
	}
}

func TestObserveDocumentCountsChunks(t *testing.T) {
	ObserveDocument("metrics-src", "replaced", 3)
	ObserveDocument("metrics-src", "unchanged", 0)

	if got := testutil.ToFloat64(ingestDocumentsTotal.WithLabelValues("metrics-src", "replaced")); got < 1 {
		t.Errorf("expected replaced count, got %f", got)
	}
	if got := testutil.ToFloat64(ingestChunksUpsertedTotal.WithLabelValues("metrics-src")); got < 3 {
		t.Errorf("expected at least 3 chunks, got %f", got)
	}
}

func TestObserveTaskAndRun(t *testing.T) {
	before := testutil.ToFloat64(ingestTasksTotal.WithLabelValues("cleanup", "failed"))
	ObserveTask("cleanup", "failed")
	ObserveRun("daily", "failed", 2*time.Second)
	ObserveCleanup("succeeded")
	ObserveFeedPost("main", "indexed")

	if got := testutil.ToFloat64(ingestTasksTotal.WithLabelValues("cleanup", "failed")); got != before+1 {
		t.Errorf("expected %f, got %f", before+1, got)
	}
	if val := testutil.CollectAndCount(ingestRunDurationSeconds); val <= 0 {
		t.Errorf("expected run duration observations, got %d", val)
	}
}

func TestInflightGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(ingestInflightFetches)
	IncInflightFetches()
	if got := testutil.ToFloat64(ingestInflightFetches); got != before+1 {
		t.Errorf("expected %f, got %f", before+1, got)
	}
	DecInflightFetches()
	if got := testutil.ToFloat64(ingestInflightFetches); got != before {
		t.Errorf("expected %f, got %f", before, got)
	}
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
