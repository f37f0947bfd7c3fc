//go:build !debug
// +build !debug

package tag

// Debug is true in builds made with the debug tag. Such builds run extra
// invariant checks with large performance overhead.
const Debug = false
