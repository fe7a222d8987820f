//go:build debug

package debug

// Enabled is true in debug builds.
const Enabled = true
