// Package detector decides when a probe response should be retried through
// the headless browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/article-gateway/internal/article"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	// BodyLengthThreshold marks a body as thin. SPA shells are only promoted
	// below spaShellFactor times this size so server-rendered apps are kept.
	BodyLengthThreshold int
}

const spaShellFactor = 8

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// challengeMarkers are lowercase fragments of common bot-protection pages.
var challengeMarkers = []string{
	"cf-chl",
	"cf-browser-verification",
	"just a moment...",
	"attention required!",
	"_incapsula_resource",
	"px-captcha",
	"g-recaptcha",
	"h-captcha",
	"captcha-delivery.com",
	"enable javascript and cookies to continue",
}

// challengeStatuses are the codes bot walls typically answer with.
var challengeStatuses = map[int]bool{
	403: true,
	429: true,
	503: true,
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp article.FetchResponse) bool {
	if looksLikeChallenge(resp) {
		return true
	}
	if resp.StatusCode != 200 && resp.StatusCode != 201 {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	if len(body) < h.BodyLengthThreshold*spaShellFactor {
		for _, marker := range spaMarkers {
			if bytes.Contains(body, marker) {
				return true
			}
		}
	}
	return false
}

func looksLikeChallenge(resp article.FetchResponse) bool {
	if len(resp.Body) == 0 {
		return challengeStatuses[resp.StatusCode] && resp.Headers.Get("Cf-Mitigated") != ""
	}
	lower := strings.ToLower(string(resp.Body))
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return challengeStatuses[resp.StatusCode] || resp.StatusCode == 200
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tag: the rest of the document counts as script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
