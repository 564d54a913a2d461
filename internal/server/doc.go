// Package server hosts the Fiber HTTP service, the request middleware chain,
// and the app registry that maps Host headers to configured applications.
// It also owns the shared upstream http.Client used by the offline cache
// manager and the pass-through proxy. Keep exports narrow and accept explicit
// dependencies so cmd wiring and tests can inject fakes.
package server
