// Package cache defines the generational store backing the offline resource
// cache. A Registry manages named generations (one per deployed site version);
// each generation is an isolated key/value Store holding immutable response
// snapshots. Two backends are provided: a filesystem store with temp-file +
// rename atomic writes, and a LevelDB store with prefix-scoped keys. Both
// serialize snapshots with msgpack and share the same drop semantics: once a
// generation is dropped, writes through an already-open handle fail with
// ErrGenerationDropped.
package cache
