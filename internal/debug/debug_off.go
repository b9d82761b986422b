//go:build !debug

// Package debug provides assertion helpers compiled out of non-debug
// builds, a standard split for assertion helpers meant to vanish in release builds.
package debug

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
