package extractor

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/san-kum/bookshelf/internal/model"
	"github.com/san-kum/bookshelf/internal/service/urlutil"
)

const (
	maxKeywords       = 10
	maxPreviewChars   = 400
	minContainerChars = 100
)

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// page is the parsed document plus the lookups every source needs.
type page struct {
	doc  *goquery.Document
	meta map[string]string
	base *url.URL
}

// source yields one candidate value for a field, or "" when it has none.
type source func(p *page) string

var (
	titleSources = []source{
		metaSource("og:title"),
		metaSource("twitter:title"),
		textSource("title"),
		textSource("h1"),
		metaSource("title"),
	}

	descriptionSources = []source{
		metaSource("description"),
		metaSource("og:description"),
		metaSource("twitter:description"),
	}

	imageSources = []source{
		urlSource(metaSource("og:image")),
		urlSource(metaSource("og:image:url")),
		urlSource(metaSource("twitter:image")),
		urlSource(metaSource("twitter:image:src")),
		urlSource(metaSource("image")),
		urlSource(attrSource(`link[rel="image_src"]`, "href")),
	}

	authorSources = []source{
		metaSource("author"),
		metaSource("article:author"),
		metaSource("twitter:creator"),
		textSource(`[rel="author"]`),
		textSource(`[itemprop="author"] [itemprop="name"]`),
		textSource(`[itemprop="author"]`),
		textSource(".author-name"),
		textSource(".author"),
		textSource(".byline"),
		textSource(`[class*="byline"]`),
	}

	dateSources = []source{
		metaSource("article:published_time"),
		metaSource("og:published_time"),
		metaSource("datepublished"),
		metaSource("pubdate"),
		metaSource("publishdate"),
		metaSource("publish_date"),
		metaSource("date"),
		metaSource("dc.date.issued"),
		metaSource("dc.date"),
		metaSource("sailthru.date"),
		attrSource(`[itemprop="datePublished"]`, "datetime"),
		attrSource(`[itemprop="datePublished"]`, "content"),
		attrSource("time[pubdate]", "datetime"),
		attrSource("time[datetime]", "datetime"),
		textSource("time"),
	}

	languageSources = []source{
		attrSource("html", "lang"),
		metaSource("content-language"),
		metaSource("og:locale"),
	}

	// Removed before any text is measured.
	scriptSelector = "script, style, noscript, template"

	// Removed before the preview is taken.
	boilerplateSelector = strings.Join([]string{
		"nav", "header", "footer", "aside", "form", "iframe",
		".ad", ".ads", ".advert", ".advertisement", `[class*="advert"]`,
		`[class^="ad-"]`, `[class*=" ad-"]`, `[id^="ad-"]`, `[id*="advert"]`,
		".sidebar", ".cookie-banner", ".newsletter", ".share", ".social",
	}, ", ")

	contentSelectors = []string{
		"article",
		"main",
		`[role="main"]`,
		".post-content",
		".entry-content",
		".article-body",
		".article-content",
		".content",
		"#content",
	}
)

type HTMLExtractor struct{}

func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{}
}

// Extract never fails: every field is best effort and missing fields are
// left empty. The title always falls back to one derived from pageURL.
func (e *HTMLExtractor) Extract(body []byte, pageURL string) model.ExtractedMetadata {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("Failed to parse HTML")
		return model.ExtractedMetadata{Title: urlutil.TitleFromURL(pageURL)}
	}

	p := &page{
		doc:  goquery.NewDocumentFromNode(root),
		meta: collectMeta(root),
	}
	p.base, _ = url.Parse(pageURL)

	var md model.ExtractedMetadata
	md.OpenGraph = model.OpenGraph{
		Title:       p.meta["og:title"],
		Description: p.meta["og:description"],
		Image:       p.resolve(p.meta["og:image"]),
		Type:        p.meta["og:type"],
	}
	md.TwitterCard = model.TwitterCard{
		Title:       p.meta["twitter:title"],
		Description: p.meta["twitter:description"],
		Image:       p.resolve(firstNonEmpty(p.meta["twitter:image"], p.meta["twitter:image:src"])),
	}

	md.Title = firstMatch(p, titleSources)
	if md.Title == "" {
		md.Title = urlutil.TitleFromURL(pageURL)
	}
	md.Description = firstMatch(p, descriptionSources)
	md.Image = firstMatch(p, imageSources)
	md.Keywords = keywords(p.meta["keywords"])
	md.Language = languageCode(firstMatch(p, languageSources))

	// Bylines and dates often sit inside headers, so read them before the
	// boilerplate is stripped.
	md.Author = firstMatch(p, authorSources)
	md.PublishDate = publishDate(p)

	p.doc.Find(scriptSelector).Remove()
	md.WordCount = len(wordPattern.FindAllString(nodeText(p.doc.Selection), -1))

	p.doc.Find(boilerplateSelector).Remove()
	md.TextPreview = truncate(preview(p.doc), maxPreviewChars)

	return md
}

func firstMatch(p *page, sources []source) string {
	for _, src := range sources {
		if v := src(p); v != "" {
			return v
		}
	}
	return ""
}

func metaSource(key string) source {
	return func(p *page) string {
		return p.meta[key]
	}
}

func textSource(selector string) source {
	return func(p *page) string {
		var found string
		p.doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = collapse(nodeText(s))
			return found == ""
		})
		return found
	}
}

func attrSource(selector, attr string) source {
	return func(p *page) string {
		var found string
		p.doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = strings.TrimSpace(s.AttrOr(attr, ""))
			return found == ""
		})
		return found
	}
}

func urlSource(inner source) source {
	return func(p *page) string {
		return p.resolve(inner(p))
	}
}

func (p *page) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || p.base == nil {
		return ref
	}
	u, err := p.base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// collectMeta maps lower-cased name, property, itemprop, and http-equiv
// keys to the first non-empty content seen for each.
func collectMeta(root *html.Node) map[string]string {
	meta := make(map[string]string)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var keys []string
			var content string
			for _, a := range n.Attr {
				switch strings.ToLower(a.Key) {
				case "name", "property", "itemprop", "http-equiv":
					if k := strings.ToLower(strings.TrimSpace(a.Val)); k != "" {
						keys = append(keys, k)
					}
				case "content":
					content = collapse(a.Val)
				}
			}
			if content != "" {
				for _, k := range keys {
					if _, ok := meta[k]; !ok {
						meta[k] = content
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return meta
}

func keywords(raw string) []string {
	if raw == "" {
		return nil
	}
	out := make([]string, 0, maxKeywords)
	seen := make(map[string]bool)
	for _, kw := range strings.Split(raw, ",") {
		kw = strings.TrimSpace(kw)
		key := strings.ToLower(kw)
		if kw == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, kw)
		if len(out) == maxKeywords {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func languageCode(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	raw = strings.ReplaceAll(raw, "_", "-")
	if i := strings.IndexAny(raw, "-,; "); i > 0 {
		raw = raw[:i]
	}
	return raw
}

func publishDate(p *page) string {
	for _, src := range dateSources {
		candidate := src(p)
		if candidate == "" {
			continue
		}
		if iso, ok := ParseDate(candidate); ok {
			return iso
		}
	}
	return ""
}

func preview(doc *goquery.Document) string {
	for _, sel := range contentSelectors {
		var text string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			t := collapse(nodeText(s))
			if len([]rune(t)) > minContainerChars {
				text = t
				return false
			}
			return true
		})
		if text != "" {
			return text
		}
	}
	body := doc.Find("body")
	if body.Length() == 0 {
		return collapse(nodeText(doc.Selection))
	}
	return collapse(nodeText(body))
}

// nodeText joins every text node under s with spaces so that adjacent block
// elements do not run their words together.
func nodeText(s *goquery.Selection) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max]))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
