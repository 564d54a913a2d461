// Package cache defines the named cache stores (temp, content, manifest) that
// back each application's offline generation. Two backends are provided: a
// filesystem store (temp file + rename per entry, JSON sidecar for status and
// headers) and a badger store for deployments that prefer a single embedded
// database. Both expose the same open/get/put/delete/list-keys primitives and
// guarantee atomicity per key only; multi-step sequences are left to callers.
package cache
