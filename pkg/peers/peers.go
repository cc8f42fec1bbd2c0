//go:build !debug
// +build !debug

// Package peers maps control-group source addresses to node ids for diagnostics
// (release build, no-op).
package peers

// Remember is a no-op in release builds and always returns false.
func Remember(remote string, node uint32) (remembered bool) { return false }

// Lookup is a no-op in release builds and always returns 0, false.
func Lookup(remote string) (uint32, bool) { return 0, false }
