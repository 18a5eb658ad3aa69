//go:build !berrypool_debug

package pagepool

// debugFill is false in release builds: IgnorePageData-assigned buffers
// are left as the allocator returned them, with no fill pass.
const debugFill = false
