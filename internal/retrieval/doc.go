// Package retrieval implements the cache-and-fetch state machine: derive the
// key, consult the article store, and on a miss fetch, extract and cache the
// page exactly once per attempt. Concurrent misses for the same key can share
// a single fetch.
package retrieval
