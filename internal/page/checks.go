//go:build !berrypool_debug

package page

// debugChecks is false in release builds: the extra invariant
// assertions in page.go guarded by debugChecks are skipped. Build with
// -tags berrypool_debug to turn them on.
const debugChecks = false
