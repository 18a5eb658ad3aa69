//go:build berrypool_debug

package page

const debugChecks = true
