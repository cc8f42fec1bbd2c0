package node

import (
	"sort"
	"time"

	"github.com/auraspeak/spectrum/internal/protocol"
	"github.com/auraspeak/spectrum/pkg/peers"
	"github.com/jellydator/ttlcache/v3"
)

// Peer is a node recently heard on the control group.
type Peer struct {
	Node      protocol.NodeID
	Addr      string
	ExpiresAt time.Time
}

// PeerTable remembers the source address of every node heard on the control group.
// Entries expire unless the node is heard again.
type PeerTable struct {
	cache *ttlcache.Cache[protocol.NodeID, string]
}

// NewPeerTable creates a table whose entries live for ttl. Stop must be called to release it.
func NewPeerTable(ttl time.Duration) *PeerTable {
	t := &PeerTable{
		cache: ttlcache.New[protocol.NodeID, string](
			ttlcache.WithTTL[protocol.NodeID, string](ttl),
			ttlcache.WithDisableTouchOnHit[protocol.NodeID, string](),
		),
	}
	go t.cache.Start()
	return t
}

// Seen records that node was heard from addr.
func (t *PeerTable) Seen(node protocol.NodeID, addr string) {
	t.cache.Set(node, addr, ttlcache.DefaultTTL)
	peers.Remember(addr, uint32(node))
}

// Lookup returns the last known address of node.
func (t *PeerTable) Lookup(node protocol.NodeID) (string, bool) {
	item := t.cache.Get(node)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// Peers returns all live peers ordered by node id.
func (t *PeerTable) Peers() []Peer {
	var out []Peer
	for node, item := range t.cache.Items() {
		if item.IsExpired() {
			continue
		}
		out = append(out, Peer{Node: node, Addr: item.Value(), ExpiresAt: item.ExpiresAt()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

// Stop halts expiry processing.
func (t *PeerTable) Stop() {
	t.cache.Stop()
}
