package article

import (
	"net/http"
	"strings"
	"time"
)

// Field names recognized in a Record.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldContent     = "content"
	FieldImage       = "image"
	FieldAuthor      = "author"
	FieldPublished   = "published"
	FieldSource      = "source"
	FieldURL         = "url"
)

// Record maps field names to string values. Absent fields are omitted rather
// than stored as empty strings, so an empty Record always means "no article".
type Record map[string]string

// Set stores value under field unless the trimmed value is blank.
func (r Record) Set(field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	r[field] = value
}

// IsEmpty reports whether the record carries no fields.
func (r Record) IsEmpty() bool {
	return len(r) == 0
}

// Clone returns a copy of r without blank values. Stores persist clones, so
// a blank field is never cached.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Result is what a retrieval hands back to the transport layer.
type Result struct {
	Key     string
	Article Record
	Cached  bool
}

// Outcome labels the terminal state of a miss-path cycle.
type Outcome string

// Miss-path outcomes recorded by sinks.
const (
	OutcomeStored        Outcome = "stored"
	OutcomeUncached      Outcome = "uncached"
	OutcomeFetchFailed   Outcome = "fetch_failed"
	OutcomeExtractFailed Outcome = "extract_failed"
)

// RetrievalRecord is persisted for every miss-path cycle.
type RetrievalRecord struct {
	ID           string
	CacheKey     string
	URL          string
	Outcome      Outcome
	StatusCode   int
	UsedHeadless bool
	ContentHash  string
	ArchiveURI   string
	DurationMs   int64
	ErrorText    string
	RetrievedAt  time.Time
}

// ExtractedEvent is published after a page has been fetched and extracted.
type ExtractedEvent struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	URL        string    `json:"url"`
	CacheKey   string    `json:"cache_key"`
	Title      string    `json:"title,omitempty"`
	Cached     bool      `json:"cached"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
