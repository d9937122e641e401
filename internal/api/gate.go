package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/article-gateway/internal/article"
)

// MsgBodyTooLarge is returned when the request body exceeds the limit.
const MsgBodyTooLarge = "Request body too large"

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// Request is an admitted retrieval request.
type Request struct {
	URL string
	Key string
}

// Gate validates retrieval requests and checks credentials. Checks run in a
// fixed order: method, JSON, url presence, key presence, url format, then the
// credential. Every shape failure is reported before the credential is read.
type Gate struct {
	keys    [][]byte
	maxBody int64
}

// NewGate returns a Gate accepting any of keys. Blank keys are ignored; with
// no keys every credential is rejected.
func NewGate(keys []string, maxBody int64) *Gate {
	g := &Gate{maxBody: maxBody}
	if g.maxBody <= 0 {
		g.maxBody = DefaultMaxBodyBytes
	}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			g.keys = append(g.keys, []byte(k))
		}
	}
	return g
}

// Admit validates r and returns the request, or an *article.Error.
func (g *Gate) Admit(w http.ResponseWriter, r *http.Request) (Request, error) {
	if r.Method != http.MethodPost {
		return Request{}, article.MethodNotAllowed()
	}

	fields, err := g.decode(w, r)
	if err != nil {
		return Request{}, err
	}

	rawURL, urlPresent, urlIsString := stringField(fields, "url")
	if !urlPresent {
		return Request{}, article.Validation(article.MsgMissingURL)
	}
	key, keyPresent, keyIsString := stringField(fields, "key")
	if !keyPresent {
		return Request{}, article.Validation(article.MsgMissingKey)
	}
	if !urlIsString || !validURL(rawURL) {
		return Request{}, article.Validation(article.MsgInvalidURL)
	}
	if !keyIsString || !g.authorized(key) {
		return Request{}, article.Unauthorized()
	}
	return Request{URL: rawURL, Key: key}, nil
}

func (g *Gate) decode(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, error) {
	body := http.MaxBytesReader(w, r.Body, g.maxBody)
	defer func() { _ = body.Close() }()

	var fields map[string]json.RawMessage
	dec := json.NewDecoder(body)
	if err := dec.Decode(&fields); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, article.Validation(MsgBodyTooLarge)
		}
		return nil, article.Validation(article.MsgInvalidJSON)
	}
	if fields == nil {
		return nil, article.Validation(article.MsgInvalidJSON)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, article.Validation(article.MsgInvalidJSON)
	}
	return fields, nil
}

// stringField returns the value of name, whether it is present, and whether
// it is a JSON string. Null and "" count as absent.
func stringField(fields map[string]json.RawMessage, name string) (value string, present, isString bool) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return "", false, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", true, false
	}
	return value, value != "", true
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != "" && u.Hostname() != ""
}

// authorized compares key against every configured key without returning
// early, so timing does not reveal which key matched.
func (g *Gate) authorized(key string) bool {
	candidate := []byte(key)
	match := 0
	for _, k := range g.keys {
		match |= subtle.ConstantTimeCompare(candidate, k)
	}
	return match == 1
}
