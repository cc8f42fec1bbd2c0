//go:build debug
// +build debug

package peers

import (
	"sync"
)

var dbgAddrToNodeMap = sync.Map{}

// Remember records that node was last heard from remote.
func Remember(remote string, node uint32) (remembered bool) {
	dbgAddrToNodeMap.Store(remote, node)
	return true
}

// Lookup returns the node last heard from remote.
func Lookup(remote string) (uint32, bool) {
	v, ok := dbgAddrToNodeMap.Load(remote)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint32)
	return id, ok
}
