//go:build !loom_sysalloc

package loom

const systemAllocatorDefault = false
