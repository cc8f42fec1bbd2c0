// Package node carries directives between this node and the control group.
//
// A NodeManager owns two sockets: a send socket used for multicast directives and unicast
// replies, and a listen socket bound to the control group that is opened on demand. Inbound
// directives are decoded on a reader goroutine and handed to the event loop for routing.
package node

import (
	"net/netip"
	"time"

	"github.com/auraspeak/spectrum/internal/protocol"
)

// Options configures a NodeManager.
type Options struct {
	// NodeID is the local node id. Directives carrying it are not entered in the peer table.
	NodeID protocol.NodeID
	// Group is the control group address.
	Group netip.AddrPort
	// Interface names the NIC used for multicast. Empty selects the system default.
	Interface string
	// TTL is the multicast TTL of outgoing directives.
	TTL int
	// ReadBufSize is the largest datagram accepted.
	ReadBufSize uint
	// PeerTTL is how long a node stays in the peer table after it was last heard.
	PeerTTL time.Duration
}

const (
	defaultReadBufSize = 2048
	defaultTTL         = 1
	defaultPeerTTL     = 5 * time.Minute
)

func (o *Options) setDefaults() {
	if o.ReadBufSize == 0 {
		o.ReadBufSize = defaultReadBufSize
	}
	if o.TTL == 0 {
		o.TTL = defaultTTL
	}
	if o.PeerTTL == 0 {
		o.PeerTTL = defaultPeerTTL
	}
}
