// Package offline implements the three lifecycle operations of the offline
// resource cache: manifest preloading at install time (all-or-nothing),
// request interception with cache-first fallback to the origin, and
// generation collection at activation time. The Manager holds no notion of
// which generation is active; the caller (internal/lifecycle) supplies the
// generation name per call, so multiple independent instances can coexist.
package offline
