package registry

import (
	"net/netip"

	"github.com/auraspeak/spectrum/internal/protocol"
	log "github.com/sirupsen/logrus"
)

// The handlers below apply directives received from other nodes. Directives carrying the
// local node id are our own broadcasts looped back and are dropped.

// Add reconciles an ownership announcement.
func (r *Registry) Add(node protocol.NodeID, ch protocol.Channel, addr netip.AddrPort) error {
	if node == r.nodeID || !addr.IsValid() {
		return nil
	}
	fi := r.find(ch)
	ai := r.findAddress(addr)

	if fi != nil && fi == ai {
		// Same entry already known; only the owner may move to the lower id.
		if node < fi.OwnerNodeID {
			fi.OwnerNodeID = node
		}
		return nil
	}

	if ai != nil {
		// The address belongs to a different channel. The lower node id keeps it.
		if node >= ai.OwnerNodeID {
			return nil
		}
		var moved netip.AddrPort
		if ai.OwnerNodeID == r.nodeID {
			// addr is still indexed, so the allocator will not hand it out again.
			next, err := r.pool.next(r.addressInUse)
			if err != nil {
				return err
			}
			moved = next
			if err := r.send(protocol.DirectiveAdd, ai.Channel, moved); err != nil {
				return err
			}
		}
		r.setAddress(ai, moved, ai.OwnerNodeID)
	}

	if fi == nil {
		r.insert(Entry{Channel: ch, Address: addr, OwnerNodeID: node})
		return nil
	}
	if !fi.Address.IsValid() || (fi.Address != addr && node <= fi.OwnerNodeID) {
		r.setAddress(fi, addr, node)
	}
	return nil
}

// Del removes an entry on behalf of its owner.
func (r *Registry) Del(node protocol.NodeID, ch protocol.Channel) {
	if node == r.nodeID {
		return
	}
	rec := r.find(ch)
	if rec == nil || node != rec.OwnerNodeID {
		return
	}
	if len(rec.users) > 0 {
		r.critical(rec, node, "Active entry removed by owner")
		r.setAddress(rec, netip.AddrPort{}, 0)
		return
	}
	r.erase(rec)
}

// Join counts a remote user. A join for an unknown channel (arriving before its add)
// creates an orphan placeholder.
func (r *Registry) Join(node protocol.NodeID, ch protocol.Channel) {
	if node == r.nodeID {
		return
	}
	rec := r.find(ch)
	if rec == nil {
		r.insert(Entry{Channel: ch, NUsers: 1})
		return
	}
	rec.NUsers++
	r.emit(rec, node, Join)
}

// Leave drops a remote user. When the last user leaves an entry owned by this node or by
// nobody, the entry is released.
func (r *Registry) Leave(node protocol.NodeID, ch protocol.Channel) error {
	if node == r.nodeID {
		return nil
	}
	rec := r.find(ch)
	if rec == nil {
		return nil
	}
	// nUsers may already be 0 after a stop/leave race.
	if rec.NUsers > 0 {
		rec.NUsers--
		r.emit(rec, node, Leave)
	}
	if rec.NUsers > 0 || (rec.OwnerNodeID != r.nodeID && rec.OwnerNodeID != 0) {
		return nil
	}
	if len(rec.users) > 0 {
		r.critical(rec, node, "Disabling active entry: no users?")
		if !rec.Orphan() {
			r.setAddress(rec, netip.AddrPort{}, 0)
		}
		return nil
	}
	if rec.OwnerNodeID == r.nodeID {
		if err := r.send(protocol.DirectiveDel, rec.Channel, netip.AddrPort{}); err != nil {
			return err
		}
	}
	r.erase(rec)
	return nil
}

// Poll returns the number of local users of ch.
func (r *Registry) Poll(node protocol.NodeID, ch protocol.Channel) int {
	if node == r.nodeID {
		return 0
	}
	rec := r.find(ch)
	if rec == nil {
		return 0
	}
	return len(rec.users)
}

func (r *Registry) critical(rec *record, node protocol.NodeID, msg string) {
	r.log.WithFields(log.Fields{
		"frequency": rec.Frequency,
		"bandwidth": rec.Bandwidth,
		"node":      node,
	}).Error("CRITICAL: " + msg)
}
