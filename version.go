// Package workcore is the root package of the concurrency core: the
// Handle & Owner Registry (handle), Work Contract Group (contract),
// Work Service (service), and Work Graph (graph) subpackages compose
// into a generational-handle task scheduler. This file carries only
// the ABI version surface; everything else lives in its own
// subpackage per layer.
package workcore

// Version numbers. ABI changes on breaking wire changes to the
// handle/contract/schedule-result vocabulary; Major/Minor/Patch track
// the Go API surface itself.
const (
	VersionMajor = 1
	VersionMinor = 0
	VersionPatch = 0
	ABIVersion   = 1
)

// Version reports the four integers a host application checks before
// binding against this module, mirroring the C-ABI's
// get_version(major, minor, patch, abi) out-parameter family without
// requiring a cgo shim.
func Version() (major, minor, patch, abi int) {
	return VersionMajor, VersionMinor, VersionPatch, ABIVersion
}
