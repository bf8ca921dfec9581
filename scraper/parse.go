package scraper

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"golang.org/x/net/html"

	"sms-server-go/models"
)

var quoteReplacer = strings.NewReplacer(
	"“", `"`,
	"”", `"`,
	"‘", "'",
	"’", "'",
)

// ParseBooks extracts one record per product of a books listing page. The
// category is the page's active breadcrumb; products without a title link
// are skipped.
func ParseBooks(r io.Reader) ([]models.ListingInput, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse books page: %w", err)
	}

	category := ""
	if active := findFirst(doc, func(n *html.Node) bool {
		return isTag(n, "li") && hasClass(n, "active") && hasAncestor(n, doc, classMatcher("breadcrumb"))
	}); active != nil {
		category = strings.TrimSpace(textContent(active))
	}

	items := []models.ListingInput{}
	for _, li := range productEntries(doc) {
		link := findFirst(li, func(n *html.Node) bool {
			return isTag(n, "a") && hasAncestor(n, li, tagMatcher("h3"))
		})
		if link == nil {
			continue
		}

		title, _ := attr(link, "title")
		if title == "" {
			title = strings.TrimSpace(textContent(link))
		}
		href, _ := attr(link, "href")

		var price *string
		if el := findFirst(li, classMatcher("price_color")); el != nil {
			p := strings.TrimSpace(textContent(el))
			price = &p
		}

		items = append(items, models.ListingInput{
			Source:           models.SourceBooks,
			Title:            title,
			URL:              strings.TrimSpace(href),
			CategoryOrAuthor: category,
			Price:            price,
		})
	}
	return items, nil
}

// productEntries returns every li inside an ol.row, in document order.
func productEntries(doc *html.Node) []*html.Node {
	var out []*html.Node
	for _, ol := range findAll(doc, func(n *html.Node) bool { return isTag(n, "ol") && hasClass(n, "row") }) {
		for _, li := range findAll(ol, tagMatcher("li")) {
			if !slices.Contains(out, li) {
				out = append(out, li)
			}
		}
	}
	return out
}

// ParseQuotes extracts one record per quote block. Blocks missing the text
// or the author are skipped.
func ParseQuotes(r io.Reader) ([]models.ListingInput, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quotes page: %w", err)
	}

	items := []models.ListingInput{}
	for _, div := range findAll(doc, func(n *html.Node) bool { return isTag(n, "div") && hasClass(n, "quote") }) {
		textEl := findFirst(div, func(n *html.Node) bool { return isTag(n, "span") && hasClass(n, "text") })
		authorEl := findFirst(div, func(n *html.Node) bool { return isTag(n, "small") && hasClass(n, "author") })
		if textEl == nil || authorEl == nil {
			continue
		}

		url := ""
		if link := findFirst(div, func(n *html.Node) bool {
			return isTag(n, "a") && hasAncestor(n, div, tagMatcher("span"))
		}); link != nil {
			href, _ := attr(link, "href")
			url = strings.TrimSpace(href)
		}

		items = append(items, models.ListingInput{
			Source:           models.SourceQuotes,
			Title:            NormalizeQuote(textContent(textEl)),
			URL:              url,
			CategoryOrAuthor: strings.TrimSpace(textContent(authorEl)),
		})
	}
	return items, nil
}

// NormalizeQuote straightens curly quotation marks and strips one enclosing
// pair of double quotes.
func NormalizeQuote(raw string) string {
	s := quoteReplacer.Replace(strings.TrimSpace(raw))
	if strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		if len(s) < 2 {
			return ""
		}
		s = s[1 : len(s)-1]
	}
	return s
}

// --- DOM helpers ---

type matcher func(*html.Node) bool

func tagMatcher(tag string) matcher {
	return func(n *html.Node) bool { return isTag(n, tag) }
}

func classMatcher(class string) matcher {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && hasClass(n, class) }
}

func isTag(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	v, ok := attr(n, "class")
	if !ok {
		return false
	}
	return slices.Contains(strings.Fields(v), class)
}

// hasAncestor reports whether some ancestor of n, up to and including root,
// satisfies match.
func hasAncestor(n, root *html.Node, match matcher) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if match(p) {
			return true
		}
		if p == root {
			return false
		}
	}
	return false
}

// findAll returns the descendants of root that satisfy match, in document
// order.
func findAll(root *html.Node, match matcher) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if match(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(root *html.Node, match matcher) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
