package extractor

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-gateway/internal/article"
)

// linkedData holds the schema.org article properties we read.
type linkedData struct {
	Headline      string
	Description   string
	Image         string
	Author        string
	DatePublished string
	Publisher     string
	URL           string
}

var articleTypes = map[string]bool{
	"article":              true,
	"newsarticle":          true,
	"blogposting":          true,
	"reportagenewsarticle": true,
	"analysisnewsarticle":  true,
	"opinionnewsarticle":   true,
	"techarticle":          true,
	"scholarlyarticle":     true,
}

func collectMetadata(doc *goquery.Document, pageBase *url.URL, pageURL string, rec article.Record) {
	ld := findLinkedData(doc)

	rec.Set(article.FieldTitle, firstNonEmpty(
		metaContent(doc, "og:title", "twitter:title"),
		ld.Headline,
		normalizeSpace(doc.Find("head title").First().Text()),
		normalizeSpace(doc.Find("h1").First().Text()),
	))
	rec.Set(article.FieldDescription, firstNonEmpty(
		metaContent(doc, "og:description", "twitter:description", "description"),
		ld.Description,
	))
	rec.Set(article.FieldImage, resolve(pageBase, firstNonEmpty(
		metaContent(doc, "og:image", "og:image:url", "twitter:image", "twitter:image:src"),
		ld.Image,
		attr(doc, "link[rel='image_src']", "href"),
	)))
	rec.Set(article.FieldAuthor, firstNonEmpty(
		metaContent(doc, "author", "article:author", "byl", "parsely-author", "sailthru.author"),
		ld.Author,
		normalizeSpace(doc.Find("[rel='author'], [itemprop='author'] [itemprop='name'], .byline-name, .author-name").First().Text()),
	))
	rec.Set(article.FieldPublished, normalizeDate(firstNonEmpty(
		metaContent(doc, "article:published_time", "og:published_time", "datePublished", "pubdate", "publishdate", "date", "dc.date.issued", "sailthru.date"),
		ld.DatePublished,
		attr(doc, "time[datetime]", "datetime"),
	)))
	rec.Set(article.FieldSource, firstNonEmpty(
		metaContent(doc, "og:site_name", "application-name"),
		ld.Publisher,
		siteHost(pageBase),
	))
	rec.Set(article.FieldURL, firstNonEmpty(
		resolve(pageBase, attr(doc, "link[rel='canonical']", "href")),
		resolve(pageBase, metaContent(doc, "og:url")),
		ld.URL,
		pageURL,
	))
}

// metaContent returns the first non-empty content of a meta tag matching any
// key by property, name or itemprop.
func metaContent(doc *goquery.Document, keys ...string) string {
	for _, key := range keys {
		var found string
		doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			for _, a := range []string{"property", "name", "itemprop"} {
				if v, ok := s.Attr(a); ok && strings.EqualFold(strings.TrimSpace(v), key) {
					if content := normalizeSpace(s.AttrOr("content", "")); content != "" {
						found = content
						return false
					}
				}
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func attr(doc *goquery.Document, selector, name string) string {
	return strings.TrimSpace(doc.Find(selector).First().AttrOr(name, ""))
}

func findLinkedData(doc *goquery.Document) linkedData {
	var out linkedData
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		if node := findArticleNode(raw); node != nil {
			out = linkedData{
				Headline:      firstNonEmpty(stringValue(node["headline"]), stringValue(node["name"])),
				Description:   stringValue(node["description"]),
				Image:         urlValue(node["image"]),
				Author:        nameValue(node["author"]),
				DatePublished: stringValue(node["datePublished"]),
				Publisher:     nameValue(node["publisher"]),
				URL:           firstNonEmpty(stringValue(node["url"]), stringValue(node["mainEntityOfPage"])),
			}
			return false
		}
		return true
	})
	return out
}

func findArticleNode(v any) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if node := findArticleNode(item); node != nil {
				return node
			}
		}
	case map[string]any:
		if isArticleType(t["@type"]) {
			return t
		}
		if graph, ok := t["@graph"]; ok {
			return findArticleNode(graph)
		}
	}
	return nil
}

func isArticleType(v any) bool {
	switch t := v.(type) {
	case string:
		return articleTypes[strings.ToLower(t)]
	case []any:
		for _, item := range t {
			if isArticleType(item) {
				return true
			}
		}
	}
	return false
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return normalizeSpace(t)
	case map[string]any:
		return stringValue(t["@id"])
	}
	return ""
}

// urlValue handles "url", {"url": "..."} and lists of either.
func urlValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return firstNonEmpty(urlValue(t["url"]), urlValue(t["contentUrl"]))
	case []any:
		for _, item := range t {
			if u := urlValue(item); u != "" {
				return u
			}
		}
	}
	return ""
}

// nameValue handles "name", {"name": "..."} and lists, joining multiple authors.
func nameValue(v any) string {
	switch t := v.(type) {
	case string:
		return normalizeSpace(t)
	case map[string]any:
		return stringValue(t["name"])
	case []any:
		var names []string
		for _, item := range t {
			if n := nameValue(item); n != "" {
				names = append(names, n)
			}
		}
		return strings.Join(names, ", ")
	}
	return ""
}

func resolve(pageBase *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || pageBase == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return pageBase.ResolveReference(u).String()
}

func siteHost(pageBase *url.URL) string {
	if pageBase == nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(pageBase.Hostname()), "www.")
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006",
	"Jan 2, 2006",
	"20060102",
}

// normalizeDate renders parseable dates as RFC 3339 and keeps anything else
// verbatim.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(time.RFC3339)
		}
	}
	return raw
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
