// Package offline implements the per-application offline cache manager.
//
// A Worker is one cache generation bound to an immutable resource manifest.
// It runs the install step (pre-fetch the application shell into the temp
// bucket), the activate step (migrate the content bucket by diffing the new
// manifest against the persisted one), and serves intercepted GET requests
// with a cache-first or online-first policy. A Controller hosts the workers
// of one application: it serializes lifecycle steps, keeps the active and
// waiting generations, and handles the skipWaiting/downloadOffline control
// messages.
package offline
