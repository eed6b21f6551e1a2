package extract

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

const storePage = `<!doctype html>
<html>
<head>
  <title>  Downtown   Store </title>
  <style>.x{color:red}</style>
  <script>var tracking = "ignore me";</script>
</head>
<body>
  <header><a href="/">Home</a> Site header</header>
  <nav><a href="/stores/">Stores</a><a href="/hours#today">Hours</a></nav>
  <main>
    <h1>Downtown</h1>
    <p>Open <b>daily</b> from 9am.</p><p>Parking   in back.</p>
    <form><input name="q"> Search</form>
    <a href="https://Other.example.org:443/promo?b=2&a=1">Promo</a>
    <a href="mailto:help@example.com">Mail</a>
    <a href="/hours">Hours again</a>
  </main>
  <footer>Copyright</footer>
</body>
</html>`

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestExtractDOMPrefersMain(t *testing.T) {
	t.Parallel()

	page, err := New(ModeDOM).HTML([]byte(storePage), mustURL(t, "https://shop.example.com/stores/downtown"))
	require.NoError(t, err)
	require.Equal(t, "Downtown Store", page.Title)
	require.Equal(t, "Downtown Open daily from 9am. Parking in back. Promo Mail Hours again", page.Text)
	require.NotContains(t, page.Text, "tracking")
	require.NotContains(t, page.Text, "Copyright")
	require.NotContains(t, page.Text, "Search")
}

func TestExtractDOMLinksIncludeNavigation(t *testing.T) {
	t.Parallel()

	page, err := New(ModeDOM).HTML([]byte(storePage), mustURL(t, "https://shop.example.com/stores/downtown"))
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://shop.example.com/",
		"https://shop.example.com/stores/",
		"https://shop.example.com/hours",
		"https://other.example.org/promo?a=1&b=2",
	}, page.Links)
}

func TestExtractDOMContainerFallbacks(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		html string
		want string
	}{
		{
			name: "article",
			html: `<html><body><div>Sidebar</div><article><p>Weekly deals</p></article></body></html>`,
			want: "Weekly deals",
		},
		{
			name: "body",
			html: `<html><body><div>Plain</div><div>page</div><footer>x</footer></body></html>`,
			want: "Plain page",
		},
		{
			name: "blank",
			html: `<html><body><nav>Only nav</nav><script>x()</script></body></html>`,
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := New(ModeDOM).HTML([]byte(tc.html), mustURL(t, "https://example.com/"))
			require.NoError(t, err)
			require.Equal(t, tc.want, page.Text)
		})
	}
}

func TestExtractDOMTitleFallbacks(t *testing.T) {
	t.Parallel()

	og := `<html><head><meta property="og:title" content="OG Title"></head><body><h1>Heading</h1></body></html>`
	page, err := New(ModeDOM).HTML([]byte(og), nil)
	require.NoError(t, err)
	require.Equal(t, "OG Title", page.Title)

	h1 := `<html><body><h1> Heading  One </h1></body></html>`
	page, err = New(ModeDOM).HTML([]byte(h1), nil)
	require.NoError(t, err)
	require.Equal(t, "Heading One", page.Title)
}

func TestExtractDOMBaseHref(t *testing.T) {
	t.Parallel()

	doc := `<html><head><base href="https://cdn.example.com/docs/"></head><body><a href="guide.html">Guide</a></body></html>`
	page, err := New(ModeDOM).HTML([]byte(doc), mustURL(t, "https://example.com/"))
	require.NoError(t, err)
	require.Equal(t, []string{"https://cdn.example.com/docs/guide.html"}, page.Links)
}

func TestExtractReadabilityFallsBackToDOM(t *testing.T) {
	t.Parallel()

	doc := `<html><head><title>T</title></head><body><main><p>Short</p></main></body></html>`
	page, err := New(ModeReadability).HTML([]byte(doc), mustURL(t, "https://example.com/"))
	require.NoError(t, err)
	require.Equal(t, "T", page.Title)
	require.NotEmpty(t, page.Text)
	require.Contains(t, page.Text, "Short")
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	m, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeDOM, m)

	m, err = ParseMode(" Readability ")
	require.NoError(t, err)
	require.Equal(t, ModeReadability, m)

	_, err = ParseMode("headless")
	require.ErrorIs(t, err, ErrUnsupportedMode)
}
