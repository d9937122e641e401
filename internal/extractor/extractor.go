// Package extractor turns raw HTML pages into article records.
//
// Metadata comes from Open Graph, Twitter card, schema.org JSON-LD and plain
// meta tags, in that order of preference. Body content comes from the first
// semantic container that carries enough text, falling back to the page's
// longer paragraphs.
package extractor

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-gateway/internal/article"
	"github.com/JakeFAU/article-gateway/internal/metrics"
)

// Format selects how the content field is rendered.
type Format string

// Content formats.
const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// ParseFormat maps a config value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatMarkdown, FormatText:
		return f, nil
	default:
		return "", fmt.Errorf("unknown content format %q", s)
	}
}

// Config tunes extraction thresholds.
type Config struct {
	Format Format
	// MinContentChars is the text length a container needs to be chosen.
	MinContentChars int
	// MinParagraphChars filters short paragraphs in the fallback path.
	MinParagraphChars int
}

// contentSelectors are tried in order; the first with enough text wins.
var contentSelectors = []string{
	"[itemprop='articleBody']",
	"article",
	"[role='main']",
	"main",
	".post-content",
	".article-content",
	".article-body",
	".entry-content",
	".story-body",
	".content",
}

// noiseSelectors are removed before content selection.
const noiseSelectors = "script, style, noscript, template, nav, footer, header, aside, form, iframe, svg, button, " +
	".sidebar, .advertisement, .ads, .ad, .share, .social-share, .related, .newsletter, .comments, #comments, .cookie-banner"

// Readability implements article.Extractor.
type Readability struct {
	cfg    Config
	md     *converter.Converter
	logger *zap.Logger
}

// New builds an extractor.
func New(cfg Config, logger *zap.Logger) *Readability {
	if cfg.Format == "" {
		cfg.Format = FormatHTML
	}
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = 200
	}
	if cfg.MinParagraphChars <= 0 {
		cfg.MinParagraphChars = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Readability{
		cfg: cfg,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		logger: logger,
	}
}

var _ article.Extractor = (*Readability)(nil)

// Extract returns the article fields, or false when no body content could be
// found.
func (r *Readability) Extract(body []byte, pageURL string) (article.Record, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		r.logger.Debug("parse html failed", zap.String("url", pageURL), zap.Error(err))
		metrics.ObserveExtraction(false)
		return nil, false
	}
	pageBase, _ := url.Parse(pageURL)

	rec := article.Record{}
	collectMetadata(doc, pageBase, pageURL, rec)

	doc.Find(noiseSelectors).Remove()
	content := r.content(doc)
	if content == "" {
		metrics.ObserveExtraction(false)
		return nil, false
	}
	rec.Set(article.FieldContent, content)
	metrics.ObserveExtraction(true)
	return rec, true
}

func (r *Readability) content(doc *goquery.Document) string {
	if sel := r.pickContainer(doc); sel != nil {
		return r.render(sel)
	}
	return r.paragraphFallback(doc)
}

func (r *Readability) pickContainer(doc *goquery.Document) *goquery.Selection {
	for _, selector := range contentSelectors {
		var (
			best    *goquery.Selection
			bestLen int
		)
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if n := len(normalizeSpace(s.Text())); n > bestLen {
				best, bestLen = s, n
			}
		})
		if best != nil && bestLen >= r.cfg.MinContentChars {
			return best
		}
	}
	return nil
}

func (r *Readability) render(sel *goquery.Selection) string {
	switch r.cfg.Format {
	case FormatMarkdown:
		out, err := r.md.ConvertNode(sel.Get(0))
		if err != nil {
			r.logger.Debug("markdown conversion failed", zap.Error(err))
			return blockText(sel)
		}
		return strings.TrimSpace(string(out))
	case FormatText:
		return blockText(sel)
	default:
		markup, err := sel.Html()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(markup)
	}
}

func (r *Readability) paragraphFallback(doc *goquery.Document) string {
	var paragraphs []string
	doc.Find("body p").Each(func(_ int, s *goquery.Selection) {
		text := normalizeSpace(s.Text())
		if len(text) > r.cfg.MinParagraphChars {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		return ""
	}
	if r.cfg.Format == FormatHTML {
		var b strings.Builder
		for _, p := range paragraphs {
			b.WriteString("<p>")
			b.WriteString(html.EscapeString(p))
			b.WriteString("</p>")
		}
		return b.String()
	}
	return strings.Join(paragraphs, "\n\n")
}

// blockText renders block-level children as paragraphs separated by blank lines.
func blockText(sel *goquery.Selection) string {
	var blocks []string
	sel.Find("p, h1, h2, h3, h4, li, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("p, li, blockquote").Length() > 0 {
			return
		}
		if text := normalizeSpace(s.Text()); text != "" {
			blocks = append(blocks, text)
		}
	})
	if len(blocks) == 0 {
		return normalizeSpace(sel.Text())
	}
	return strings.Join(blocks, "\n\n")
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
