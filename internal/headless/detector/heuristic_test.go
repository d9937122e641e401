package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-gateway/internal/article"
)

func TestHeuristic_ShouldPromote(t *testing.T) {
	t.Parallel()

	longArticle := "<html><body><div id=\"__next\"><article>" +
		strings.Repeat("<p>Plenty of server rendered article text here.</p>", 600) +
		"</article></div></body></html>"

	tests := []struct {
		name string
		resp article.FetchResponse
		want bool
	}{
		{
			name: "empty body",
			resp: article.FetchResponse{StatusCode: 200, Body: []byte("  ")},
			want: true,
		},
		{
			name: "spa shell",
			resp: article.FetchResponse{StatusCode: 200, Body: []byte(`<div id="__next"></div>`)},
			want: true,
		},
		{
			name: "server rendered spa",
			resp: article.FetchResponse{StatusCode: 200, Body: []byte(longArticle)},
			want: false,
		},
		{
			name: "script density",
			resp: article.FetchResponse{StatusCode: 200, Body: []byte(`<html><script>var a=1;</script><p>t</p></html>`)},
			want: true,
		},
		{
			name: "plain article",
			resp: article.FetchResponse{StatusCode: 200, Body: []byte(`<html><body><article><p>Hello world, this is news.</p></article></body></html>`)},
			want: false,
		},
		{
			name: "cloudflare challenge",
			resp: article.FetchResponse{StatusCode: 403, Body: []byte(`<title>Just a moment...</title><script src="/cdn-cgi/challenge-platform/h/b/orchestrate/chl_page/v1?ray=1"></script><div id="cf-chl-widget"></div>`)},
			want: true,
		},
		{
			name: "rate limited captcha",
			resp: article.FetchResponse{StatusCode: 429, Body: []byte(`<div class="g-recaptcha"></div>`)},
			want: true,
		},
		{
			name: "mitigated without body",
			resp: article.FetchResponse{StatusCode: 403, Headers: http.Header{"Cf-Mitigated": {"challenge"}}},
			want: true,
		},
		{
			name: "plain forbidden",
			resp: article.FetchResponse{StatusCode: 403, Body: []byte("forbidden")},
			want: false,
		},
		{
			name: "not found",
			resp: article.FetchResponse{StatusCode: 404, Body: []byte("not found")},
			want: false,
		},
	}

	h := NewHeuristic(1000)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, h.ShouldPromote(tt.resp))
		})
	}
}

func TestNewHeuristicDefaultThreshold(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2048, NewHeuristic(0).BodyLengthThreshold)
	require.Equal(t, 2048, NewHeuristic(-5).BodyLengthThreshold)
	require.Equal(t, 10, NewHeuristic(10).BodyLengthThreshold)
}
