// Package command defines internal server commands.
package command

import "fmt"

// InternalCommand represents a command type for internal server operations.
type InternalCommand int

// Internal commands for server operations.
const (
	// CmdUpdateServerState signals that the registry was started or stopped.
	CmdUpdateServerState InternalCommand = iota
	// CmdListChannels asks the server to log its channel table.
	CmdListChannels
	// CmdStartAllocation asks the server to start address allocation.
	CmdStartAllocation
	// CmdStopAllocation asks the server to stop address allocation.
	CmdStopAllocation
)

func (c InternalCommand) String() string {
	switch c {
	case CmdUpdateServerState:
		return "update-server-state"
	case CmdListChannels:
		return "list-channels"
	case CmdStartAllocation:
		return "start-allocation"
	case CmdStopAllocation:
		return "stop-allocation"
	}
	return fmt.Sprintf("InternalCommand(%d)", int(c))
}
