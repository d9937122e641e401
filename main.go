// Command article-gateway serves normalized article records for URLs,
// fetching each page once and answering repeats from a time-bounded cache.
//
// Architecture overview:
//   - HTTP API: internal/api validates {"url","key"} requests (shape first, then
//     the credential) and renders every outcome as a success or error envelope.
//   - Retrieval: internal/retrieval derives a digest key from the literal URL,
//     consults the article store, and on a miss runs one fetch and one
//     extraction. Concurrent misses for a key share a single fetch.
//   - Fetching: a Colly probe runs first; pages that look like bot challenges or
//     client-rendered shells are promoted once to headless Chrome.
//   - Storage: Redis (default), bbolt or memory keep articles for ttl_days.
//     Raw pages can be archived (zstd) to memory, disk or GCS; each miss can be
//     logged to Postgres and announced on Pub/Sub. None of these side effects
//     can fail a request.
//
// Configuration comes from an optional file, a .env file and GATEWAY_*
// environment variables; PORT overrides server.port.
package main

import "github.com/JakeFAU/article-gateway/cmd"

func main() {
	cmd.Execute()
}
