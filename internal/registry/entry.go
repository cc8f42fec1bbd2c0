package registry

import (
	"net/netip"
	"sort"

	"github.com/auraspeak/spectrum/internal/protocol"
)

// Entry is the registry's view of one channel.
type Entry struct {
	protocol.Channel
	// Address carries the channel's traffic. The zero value means not yet assigned.
	Address netip.AddrPort
	// NUsers counts joins not yet matched by a leave, local and remote.
	NUsers uint
	// OwnerNodeID is the node that chose Address; 0 for orphans.
	OwnerNodeID protocol.NodeID
}

// Orphan reports whether the entry has neither owner nor address.
func (e Entry) Orphan() bool {
	return e.OwnerNodeID == 0 && !e.Address.IsValid()
}

// AddressCallback receives the current channel address of a local registration.
// An invalid address means the channel is currently unassigned.
type AddressCallback func(addr netip.AddrPort)

type record struct {
	Entry
	// users holds the local interface ids bound to this entry, in registration order.
	users []uint32
}

type registration struct {
	channel  protocol.Channel
	callback AddressCallback
}

// The store keeps one primary map keyed by channel and a secondary index by address.
// Unset addresses are not indexed.

func (r *Registry) find(ch protocol.Channel) *record {
	return r.entries[ch]
}

func (r *Registry) findAddress(a netip.AddrPort) *record {
	if !a.IsValid() {
		return nil
	}
	ch, ok := r.byAddress[a]
	if !ok {
		return nil
	}
	return r.entries[ch]
}

func (r *Registry) addressInUse(a netip.AddrPort) bool {
	_, ok := r.byAddress[a]
	return ok
}

func (r *Registry) insert(e Entry) *record {
	rec := &record{Entry: e}
	r.entries[e.Channel] = rec
	if e.Address.IsValid() {
		r.byAddress[e.Address] = e.Channel
	}
	return rec
}

func (r *Registry) erase(rec *record) {
	if rec.Address.IsValid() {
		if ch, ok := r.byAddress[rec.Address]; ok && ch == rec.Channel {
			delete(r.byAddress, rec.Address)
		}
	}
	delete(r.entries, rec.Channel)
}

// assign changes address and owner, keeping the address index in sync. It does not notify.
func (r *Registry) assign(rec *record, addr netip.AddrPort, owner protocol.NodeID) {
	if rec.Address.IsValid() {
		if ch, ok := r.byAddress[rec.Address]; ok && ch == rec.Channel {
			delete(r.byAddress, rec.Address)
		}
	}
	rec.Address = addr
	rec.OwnerNodeID = owner
	if addr.IsValid() {
		r.byAddress[addr] = rec.Channel
	}
}

// setAddress assigns and then tells every local registration about the new address.
func (r *Registry) setAddress(rec *record, addr netip.AddrPort, owner protocol.NodeID) {
	r.assign(rec, addr, owner)
	r.notify(rec)
}

func (r *Registry) notify(rec *record) {
	for _, id := range rec.users {
		if u, ok := r.users[id]; ok && u.callback != nil {
			u.callback(rec.Address)
		}
	}
}

func (r *Registry) removeUser(rec *record, iface uint32) {
	for i, id := range rec.users {
		if id == iface {
			rec.users = append(rec.users[:i], rec.users[i+1:]...)
			break
		}
	}
	delete(r.users, iface)
}

// sorted returns all records ordered by frequency, then bandwidth.
func (r *Registry) sorted() []*record {
	recs := make([]*record, 0, len(r.entries))
	for _, rec := range r.entries {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].Channel, recs[j].Channel
		if a.Frequency != b.Frequency {
			return a.Frequency < b.Frequency
		}
		return a.Bandwidth < b.Bandwidth
	})
	return recs
}
