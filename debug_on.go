//go:build debug
// +build debug

package spectrum

var debug = true
