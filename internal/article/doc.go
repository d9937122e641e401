// Package article defines the records, collaborator interfaces and error
// taxonomy shared by the retrieval gateway: the fetch capability, the
// extraction capability, the article store, and the best-effort sinks that
// observe each fetch cycle.
package article
