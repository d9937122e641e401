// Package store is the typed article cache facade. It owns key namespacing,
// present/absent semantics and error classification; concrete transports live
// in subpackages and this package must not import their clients.
package store
