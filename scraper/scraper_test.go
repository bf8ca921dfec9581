package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"sms-server-go/config"
	"sms-server-go/models"
)

const booksPage = `
<html>
<body>
	<ul class="breadcrumb"><li></li><li></li><li class="active">Travel</li></ul>
	<ol class="row">
		<li>
			<h3><a title="Book One" href="catalogue/book-one_1/index.html">Book One</a></h3>
			<p class="price_color">£51.77</p>
		</li>
	</ol>
</body>
</html>
`

const quotesPage = `
<html>
<body>
	<div class="quote">
		<span class="text">“Be yourself; everyone else is already taken.”</span>
		<small class="author">Oscar Wilde</small>
		<span><a href="/author/Oscar-Wilde">(about)</a></span>
	</div>
</body>
</html>
`

func TestParseBooks(t *testing.T) {
	items, err := ParseBooks(strings.NewReader(booksPage))
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, models.SourceBooks, item.Source)
	assert.Equal(t, "Book One", item.Title)
	assert.Equal(t, "catalogue/book-one_1/index.html", item.URL)
	assert.Equal(t, "Travel", item.CategoryOrAuthor)
	require.NotNil(t, item.Price)
	assert.Equal(t, "£51.77", *item.Price)
}

func TestParseBooks_Fallbacks(t *testing.T) {
	page := `
	<ol class="row">
		<li><h3><a href="a.html"> Text Title </a></h3></li>
		<li><p>no link here</p></li>
		<li><h3><a title="" href=" b.html ">B</a></h3><p class="price_color"> £1.00 </p></li>
	</ol>`
	items, err := ParseBooks(strings.NewReader(page))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Text Title", items[0].Title)
	assert.Equal(t, "", items[0].CategoryOrAuthor)
	assert.Nil(t, items[0].Price)

	assert.Equal(t, "B", items[1].Title)
	assert.Equal(t, "b.html", items[1].URL)
	require.NotNil(t, items[1].Price)
	assert.Equal(t, "£1.00", *items[1].Price)
}

func TestParseQuotes(t *testing.T) {
	items, err := ParseQuotes(strings.NewReader(quotesPage))
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, models.SourceQuotes, item.Source)
	assert.Equal(t, "Be yourself; everyone else is already taken.", item.Title)
	assert.True(t, strings.HasPrefix(item.Title, "Be yourself"))
	assert.Equal(t, "Oscar Wilde", item.CategoryOrAuthor)
	assert.Equal(t, "/author/Oscar-Wilde", item.URL)
	assert.Nil(t, item.Price)
}

func TestParseQuotes_SkipsIncompleteBlocks(t *testing.T) {
	page := `
	<div class="quote"><span class="text">“No author”</span></div>
	<div class="quote"><small class="author">No text</small></div>
	<div class="quote"><span class="text">Plain</span><small class="author">Anon</small></div>`
	items, err := ParseQuotes(strings.NewReader(page))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Plain", items[0].Title)
	assert.Equal(t, "", items[0].URL)
}

func TestNormalizeQuote(t *testing.T) {
	tests := map[string]string{
		"“Be yourself”":       "Be yourself",
		`  "straight"  `:      "straight",
		"It’s ‘fine’":         "It's 'fine'",
		`"unbalanced`:         `"unbalanced`,
		`""double""`:          `"double"`,
		`"`:                   "",
		"no quotes":           "no quotes",
		"“nested “inner” ok”": `nested "inner" ok`,
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeQuote(in), in)
	}
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		site string
		base string
		page int
		want string
	}{
		{models.SourceBooks, "https://books.toscrape.com/", 1, "https://books.toscrape.com/"},
		{models.SourceBooks, "https://books.toscrape.com/", 3, "https://books.toscrape.com/catalogue/page-3.html"},
		{models.SourceQuotes, "https://quotes.toscrape.com/", 1, "https://quotes.toscrape.com/page/1/"},
		{models.SourceQuotes, "https://quotes.toscrape.com/", 2, "https://quotes.toscrape.com/page/2/"},
	}
	for _, tt := range tests {
		got, err := PageURL(tt.site, tt.base, tt.page)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := PageURL("news", "https://example.com/", 1)
	assert.ErrorIs(t, err, ErrUnsupportedSite)
}

// siteServer serves robots.txt and quotes pages, recording request paths.
type siteServer struct {
	*httptest.Server
	robots   string
	robotsSC int
	failPage int

	mu     sync.Mutex
	paths  []string
	agents []string
}

func newSiteServer(t *testing.T, opts ...func(*siteServer)) *siteServer {
	t.Helper()
	s := &siteServer{robots: "User-agent: *\nDisallow: /private/\n", robotsSC: http.StatusOK}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.Path)
		s.agents = append(s.agents, r.UserAgent())
		s.mu.Unlock()

		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(s.robotsSC)
			fmt.Fprint(w, s.robots)
			return
		}
		var page int
		if _, err := fmt.Sscanf(r.URL.Path, "/page/%d/", &page); err != nil {
			http.NotFound(w, r)
			return
		}
		if page == s.failPage {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<div class="quote"><span class="text">“Quote %d”</span><small class="author">Author %d</small></div>`, page, page)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *siteServer) requested() (paths, agents []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.paths), slices.Clone(s.agents)
}

func (s *siteServer) scraper() *Scraper {
	return New(config.ScraperConfig{
		UserAgent: "sms-test/1.0",
		Timeout:   5 * time.Second,
		BooksURL:  s.URL + "/",
		QuotesURL: s.URL + "/",
	})
}

func TestScrape_PagesInOrder(t *testing.T) {
	srv := newSiteServer(t)

	items, err := srv.scraper().Scrape(context.Background(), models.SourceQuotes, 3)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, fmt.Sprintf("Quote %d", i+1), item.Title)
		assert.Equal(t, fmt.Sprintf("Author %d", i+1), item.CategoryOrAuthor)
	}
	paths, agents := srv.requested()
	assert.Equal(t, []string{"/robots.txt", "/page/1/", "/page/2/", "/page/3/"}, paths)
	for _, ua := range agents {
		assert.Equal(t, "sms-test/1.0", ua)
	}
}

func TestScrape_RobotsDisallowed(t *testing.T) {
	srv := newSiteServer(t, func(s *siteServer) { s.robots = "User-agent: *\nDisallow: /\n" })

	items, err := srv.scraper().Scrape(context.Background(), models.SourceQuotes, 2)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	paths, _ := srv.requested()
	assert.Equal(t, []string{"/robots.txt"}, paths)
}

func TestAllowed_StatusCodes(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusNotFound, true},
		{http.StatusForbidden, false},
		{http.StatusUnauthorized, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		srv := newSiteServer(t, func(s *siteServer) {
			s.robotsSC = tt.status
			s.robots = ""
		})
		assert.Equal(t, tt.want, srv.scraper().Allowed(context.Background(), srv.URL+"/"), "status %d", tt.status)
	}
}

func TestScrape_TransportFailureIsAllOrNothing(t *testing.T) {
	srv := newSiteServer(t, func(s *siteServer) { s.failPage = 2 })

	items, err := srv.scraper().Scrape(context.Background(), models.SourceQuotes, 3)
	require.ErrorIs(t, err, ErrTransport)
	assert.Nil(t, items)
}

func TestScrape_Unreachable(t *testing.T) {
	srv := newSiteServer(t)
	s := srv.scraper()
	srv.Close()

	// robots.txt is unreachable too, which counts as allowed.
	_, err := s.Scrape(context.Background(), models.SourceQuotes, 1)
	require.ErrorIs(t, err, ErrTransport)
}

func TestScrape_UnsupportedSite(t *testing.T) {
	_, err := New(config.ScraperConfig{}).Scrape(context.Background(), "news", 1)
	assert.ErrorIs(t, err, ErrUnsupportedSite)
}

func sampleRecords() []models.ListingInput {
	price := "£51.77"
	return []models.ListingInput{
		{Source: models.SourceBooks, Title: "Book <One> & Co", URL: "a.html", CategoryOrAuthor: "Travel", Price: &price},
		{Source: models.SourceQuotes, Title: "Be yourself", URL: "", CategoryOrAuthor: "Oscar Wilde"},
	}
}

func TestSaveJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "scraped.json")
	require.NoError(t, SaveJSON(path, sampleRecords()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "£51.77")
	assert.Contains(t, string(raw), "Book <One> & Co")
	assert.Contains(t, string(raw), "\n  {")

	var back []map[string]any
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Len(t, back, 2)
	assert.Equal(t, "books", back[0]["source"])
	assert.Nil(t, back[1]["price"])
	assert.Contains(t, back[1], "price")

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, SaveJSON(empty, nil))
	raw, err = os.ReadFile(empty)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(raw))
}

func TestSaveXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "scraped.xlsx")
	require.NoError(t, SaveXLSX(path, sampleRecords()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"source", "title", "url", "category_or_author", "price"}, rows[0])
	assert.Equal(t, "£51.77", rows[1][4])
	assert.Equal(t, "Oscar Wilde", rows[2][3])
}
