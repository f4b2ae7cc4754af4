//go:build loom_sysalloc

package loom

// Built with -tags loom_sysalloc: every pool defers to the Go allocator,
// which keeps race and memory sanitizer reports precise.
const systemAllocatorDefault = true
