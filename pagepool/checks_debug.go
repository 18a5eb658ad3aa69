//go:build berrypool_debug

package pagepool

// debugFill is true in checked builds: IgnorePageData-assigned buffers
// are stamped with fillPattern so an accidental read of uninitialized
// data is obvious rather than silently returning stale zeros.
const debugFill = true
