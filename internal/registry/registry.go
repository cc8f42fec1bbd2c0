// Package registry coordinates channel to multicast endpoint assignment between nodes.
//
// Every node keeps its own table of channels. Nodes announce ownership (add), release
// (del) and interest (join/leave) over the control group and converge on one endpoint per
// channel; conflicts are always won by the numerically lower node id.
//
// A Registry is not safe for concurrent use. All calls, including the inbound directive
// handlers, must come from one goroutine (see internal/loop).
package registry

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/auraspeak/spectrum/internal/protocol"
	log "github.com/sirupsen/logrus"
)

// ErrTransport marks failures to reach the control group. Callers treat them as fatal.
var ErrTransport = errors.New("control group transport failed")

// Transport carries directives to the control group.
type Transport interface {
	// Send broadcasts d to the control group.
	Send(d *protocol.Directive) error
	// Listen opens the inbound side. Calling it again is a no-op.
	Listen() error
	// Listening reports whether the inbound side is open.
	Listening() bool
}

// Idler runs one-shot callbacks once the event loop has nothing else to do.
type Idler interface {
	OnIdle(name string, fn func() error)
}

// ChangeType classifies population changes.
type ChangeType int

// Population change types.
const (
	Join ChangeType = iota
	Leave
	Stop
)

func (c ChangeType) String() string {
	switch c {
	case Join:
		return "JOIN"
	case Leave:
		return "LEAVE"
	case Stop:
		return "STOP"
	}
	return fmt.Sprintf("ChangeType(%d)", int(c))
}

// PopulationFunc observes changes to a channel's user count or lifecycle.
type PopulationFunc func(e Entry, node protocol.NodeID, change ChangeType)

// Options configures a Registry.
type Options struct {
	NodeID       protocol.NodeID
	AddressRange netip.Prefix
	PortBase     uint16
	Transport    Transport
	// Idler defers opening the transport until start-up allocations are queued. Optional.
	Idler Idler
	// Logger defaults to the logrus standard logger.
	Logger log.FieldLogger
}

// ListenIdleEvent names the deferred opening of the control group listen socket.
const ListenIdleEvent = "registry.listen"

// Registry is the channel table of one node.
type Registry struct {
	nodeID    protocol.NodeID
	transport Transport
	idler     Idler
	log       log.FieldLogger

	pool      *allocator
	entries   map[protocol.Channel]*record
	byAddress map[netip.AddrPort]protocol.Channel
	users     map[uint32]*registration

	running   bool
	collision CollisionCallback

	observers  []observer
	observerID int
}

type observer struct {
	id int
	fn PopulationFunc
}

// New creates a halted registry.
func New(opts Options) (*Registry, error) {
	if opts.NodeID == 0 {
		return nil, fmt.Errorf("registry: node id must not be 0")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("registry: transport is required")
	}
	pool, err := newAllocator(opts.AddressRange, opts.PortBase, opts.NodeID)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{
		nodeID:    opts.NodeID,
		transport: opts.Transport,
		idler:     opts.Idler,
		log:       logger.WithField("caller", "registry"),
		pool:      pool,
		entries:   make(map[protocol.Channel]*record),
		byAddress: make(map[netip.AddrPort]protocol.Channel),
		users:     make(map[uint32]*registration),
	}, nil
}

// NodeID returns the local node id.
func (r *Registry) NodeID() protocol.NodeID { return r.nodeID }

// Running reports whether address allocation is active.
func (r *Registry) Running() bool { return r.running }

// AddressRange returns the channel address pool and its base port.
func (r *Registry) AddressRange() (netip.Prefix, uint16) {
	return r.pool.prefix, r.pool.portBase
}

// SetAddressRange changes the channel address pool. Addresses already handed out are kept.
func (r *Registry) SetAddressRange(prefix netip.Prefix, portBase uint16) error {
	return r.pool.setRange(prefix, portBase)
}

// NextAddress makes index the next pool slot tried by the allocator.
func (r *Registry) NextAddress(index uint32) {
	r.pool.setNext(index)
}

// Subscribe registers fn for population changes. The returned func unsubscribes.
// Observers run synchronously, in subscription order.
func (r *Registry) Subscribe(fn PopulationFunc) func() {
	r.observerID++
	id := r.observerID
	r.observers = append(r.observers, observer{id: id, fn: fn})
	return func() {
		for i, o := range r.observers {
			if o.id == id {
				r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

func (r *Registry) emit(rec *record, node protocol.NodeID, change ChangeType) {
	e := rec.Entry
	for _, o := range r.observers {
		o.fn(e, node, change)
	}
}

// Entries returns a snapshot of all known channels ordered by frequency and bandwidth.
func (r *Registry) Entries() []Entry {
	recs := r.sorted()
	out := make([]Entry, len(recs))
	for i, rec := range recs {
		out[i] = rec.Entry
	}
	return out
}

// Lookup returns the entry for ch.
func (r *Registry) Lookup(ch protocol.Channel) (Entry, bool) {
	rec := r.find(ch)
	if rec == nil {
		return Entry{}, false
	}
	return rec.Entry, true
}

// Users returns the local interface ids bound to ch in registration order.
func (r *Registry) Users(ch protocol.Channel) []uint32 {
	rec := r.find(ch)
	if rec == nil {
		return nil
	}
	return append([]uint32(nil), rec.users...)
}

// Registered reports whether iface holds a registration.
func (r *Registry) Registered(iface uint32) bool {
	_, ok := r.users[iface]
	return ok
}

func (r *Registry) send(t protocol.DirectiveType, ch protocol.Channel, addr netip.AddrPort) error {
	d := &protocol.Directive{Type: t, Node: r.nodeID, Channel: ch, Address: addr}
	if err := r.transport.Send(d); err != nil {
		return fmt.Errorf("%w: send %s: %w", ErrTransport, t, err)
	}
	return nil
}

// Allocate registers local interest of interface iface in ch. cb is called with the
// current channel address before Allocate returns and again whenever it changes.
func (r *Registry) Allocate(iface uint32, ch protocol.Channel, cb AddressCallback) error {
	if _, dup := r.users[iface]; dup {
		return fmt.Errorf("registry: interface %d already registered", iface)
	}
	r.checkCollision(ch)

	rec := r.find(ch)
	if rec == nil {
		e := Entry{Channel: ch}
		if r.running {
			addr, err := r.pool.next(r.addressInUse)
			if err != nil {
				return err
			}
			e.Address = addr
			e.OwnerNodeID = r.nodeID
			if err := r.send(protocol.DirectiveAdd, ch, addr); err != nil {
				return err
			}
		}
		rec = r.insert(e)
	}
	r.users[iface] = &registration{channel: ch, callback: cb}
	rec.users = append(rec.users, iface)

	if r.running {
		if err := r.send(protocol.DirectiveJoin, ch, netip.AddrPort{}); err != nil {
			return err
		}
		rec.NUsers++
		r.emit(rec, r.nodeID, Join)
	}
	if cb != nil {
		cb(rec.Address)
	}
	if r.idler != nil && !r.transport.Listening() {
		r.idler.OnIdle(ListenIdleEvent, r.transport.Listen)
	}
	return nil
}

// Release drops the registration of iface. Releasing an unknown interface is a
// programming error and panics.
func (r *Registry) Release(iface uint32) error {
	u, ok := r.users[iface]
	if !ok {
		panic(fmt.Sprintf("registry: release of unregistered interface %d", iface))
	}
	rec := r.find(u.channel)
	if rec == nil {
		panic(fmt.Sprintf("registry: interface %d bound to unknown channel %s", iface, u.channel))
	}

	if r.running {
		if err := r.send(protocol.DirectiveLeave, rec.Channel, netip.AddrPort{}); err != nil {
			return err
		}
		// nUsers may already be 0 after a stop/release race.
		if rec.NUsers > 0 {
			rec.NUsers--
			r.emit(rec, r.nodeID, Leave)
		}
	}
	r.removeUser(rec, iface)

	switch {
	case rec.NUsers > 0:
		return nil
	case rec.OwnerNodeID != r.nodeID && rec.OwnerNodeID != 0:
		return nil
	case len(rec.users) > 0:
		if rec.OwnerNodeID == r.nodeID {
			r.log.WithFields(log.Fields{"frequency": rec.Frequency, "bandwidth": rec.Bandwidth}).
				Warn("Channel user count drained while local users remain")
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

// Start activates address allocation and replays all local interest to the control group.
// Entries with local users but no owner are claimed by this node.
func (r *Registry) Start() error {
	if !r.transport.Listening() {
		if err := r.transport.Listen(); err != nil {
			return fmt.Errorf("%w: open control group: %w", ErrTransport, err)
		}
	}
	if r.running {
		return nil
	}
	r.log.Info("Starting frequency allocation")
	for _, rec := range r.sorted() {
		n := len(rec.users)
		if n == 0 {
			continue
		}
		if rec.Orphan() {
			addr, err := r.pool.next(r.addressInUse)
			if err != nil {
				return err
			}
			r.setAddress(rec, addr, r.nodeID)
			if err := r.send(protocol.DirectiveAdd, rec.Channel, addr); err != nil {
				return err
			}
		}
		for ; n > 0; n-- {
			if err := r.send(protocol.DirectiveJoin, rec.Channel, netip.AddrPort{}); err != nil {
				return err
			}
			rec.NUsers++
			r.emit(rec, r.nodeID, Join)
		}
	}
	r.running = true
	return nil
}

// Stop halts address allocation. Nothing is sent; every entry loses owner, address and
// user count, and entries without local users are dropped.
func (r *Registry) Stop() {
	if !r.running {
		return
	}
	r.log.Info("Stopping frequency allocation")
	for _, rec := range r.sorted() {
		r.assign(rec, netip.AddrPort{}, 0)
		rec.NUsers = 0
		r.emit(rec, r.nodeID, Stop)
		if len(rec.users) == 0 {
			r.erase(rec)
		} else {
			r.notify(rec)
		}
	}
	r.running = false
}

// SendPoll asks all nodes how many local users they have on ch.
func (r *Registry) SendPoll(ch protocol.Channel) error {
	return r.send(protocol.DirectivePoll, ch, netip.AddrPort{})
}
