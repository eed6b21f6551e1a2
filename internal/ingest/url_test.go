package ingest

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM:443/Path?b=2&a=1#frag", "https://example.com/Path?a=1&b=2"},
		{"http://example.com:80/", "http://example.com/"},
		{"http://example.com:8080/x", "http://example.com:8080/x"},
		{"  https://example.com/hours  ", "https://example.com/hours"},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := NormalizeURL("http://[::1")
	require.Error(t, err)
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://shop.example.com/stores/index.html")
	require.NoError(t, err)

	got, ok := ResolveURL(base, "../about#team")
	require.True(t, ok)
	require.Equal(t, "https://shop.example.com/about", got)

	got, ok = ResolveURL(base, "HTTP://Other.example.com:80/x")
	require.True(t, ok)
	require.Equal(t, "http://other.example.com/x", got)

	for _, href := range []string{"", "#top", "mailto:hi@example.com", "javascript:void(0)", "tel:+1555"} {
		_, ok := ResolveURL(base, href)
		require.False(t, ok, href)
	}
}
