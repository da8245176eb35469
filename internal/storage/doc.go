// Package storage persists publish reports so operators can look up what happened
// to a publish after the fact.
//
// Drivers:
//   - "file": JSON Lines, one report per line; Prune rewrites the file
//   - "sqlite": modernc.org/sqlite (pure Go, no cgo)
//
// Storage is optional. Open returns (nil, nil) when disabled.
package storage
