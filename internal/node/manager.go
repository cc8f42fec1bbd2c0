package node

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/auraspeak/spectrum/internal/loop"
	"github.com/auraspeak/spectrum/internal/protocol"
	"github.com/auraspeak/spectrum/internal/router"
	"github.com/auraspeak/spectrum/pkg/tracer"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("node manager closed")

// NodeManager sends directives to the control group and routes the ones it receives.
type NodeManager struct {
	opts  Options
	group *net.UDPAddr

	router *router.Router
	lp     *loop.Loop
	tracer *tracer.Tracer
	peers  *PeerTable

	mu        sync.Mutex
	sendConn  net.PacketConn
	recvConn  net.PacketConn
	closed    bool
	listening atomic.Bool
	wg        sync.WaitGroup
	closeOnce sync.Once

	// socket constructors, replaced in tests
	openSend func() (net.PacketConn, error)
	openRecv func() (net.PacketConn, error)

	// OnReply receives unicast answers to directives sent by this node. Called on the
	// reader goroutine. Defaults to logging the answer.
	OnReply func(from net.Addr, reply string)
}

// NewNodeManager creates a NodeManager. Inbound directives are routed through r on lp.
// traceCh may be nil.
func NewNodeManager(opts Options, r *router.Router, lp *loop.Loop, traceCh chan tracer.TraceEvent) (*NodeManager, error) {
	if !opts.Group.IsValid() || !opts.Group.Addr().Is4() || !opts.Group.Addr().IsMulticast() {
		return nil, fmt.Errorf("control group %s is not an IPv4 multicast address", opts.Group)
	}
	opts.setDefaults()
	nm := &NodeManager{
		opts:   opts,
		group:  net.UDPAddrFromAddrPort(opts.Group),
		router: r,
		lp:     lp,
		tracer: tracer.NewTracerWithChannel(traceCh),
		peers:  NewPeerTable(opts.PeerTTL),
	}
	nm.openSend = nm.dialGroup
	nm.openRecv = nm.listenGroup
	nm.OnReply = func(from net.Addr, reply string) {
		log.WithField("caller", "node manager").WithField("from", from.String()).Infof("Reply: %s", reply)
	}
	return nm, nil
}

// Peers returns the peer table.
func (nm *NodeManager) Peers() *PeerTable { return nm.peers }

// Group returns the control group address.
func (nm *NodeManager) Group() net.Addr { return nm.group }

func (nm *NodeManager) multicastInterface() (*net.Interface, error) {
	if nm.opts.Interface == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(nm.opts.Interface)
	if err != nil {
		return nil, fmt.Errorf("multicast interface %q: %w", nm.opts.Interface, err)
	}
	return ifi, nil
}

func (nm *NodeManager) dialGroup() (net.PacketConn, error) {
	ifi, err := nm.multicastInterface()
	if err != nil {
		return nil, err
	}
	c, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, err
	}
	p := ipv4.NewPacketConn(c)
	if err := p.SetMulticastTTL(nm.opts.TTL); err != nil {
		c.Close()
		return nil, fmt.Errorf("set multicast ttl: %w", err)
	}
	// Other nodes on this host must see our directives.
	if err := p.SetMulticastLoopback(true); err != nil {
		c.Close()
		return nil, fmt.Errorf("set multicast loopback: %w", err)
	}
	if ifi != nil {
		if err := p.SetMulticastInterface(ifi); err != nil {
			c.Close()
			return nil, fmt.Errorf("set multicast interface: %w", err)
		}
	}
	return c, nil
}

func (nm *NodeManager) listenGroup() (net.PacketConn, error) {
	ifi, err := nm.multicastInterface()
	if err != nil {
		return nil, err
	}
	// ListenMulticastUDP sets SO_REUSEADDR so several nodes can share one host.
	c, err := net.ListenMulticastUDP("udp4", ifi, nm.group)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Open creates the send socket and starts reading replies on it.
func (nm *NodeManager) Open() error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if nm.closed {
		return ErrClosed
	}
	if nm.sendConn != nil {
		return nil
	}
	c, err := nm.openSend()
	if err != nil {
		return fmt.Errorf("open send socket: %w", err)
	}
	nm.sendConn = c
	nm.wg.Add(1)
	go nm.readLoop(c, nm.handleReply)
	return nil
}

// Listen joins the control group and starts routing inbound directives. Calling it again
// is a no-op.
func (nm *NodeManager) Listen() error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if nm.closed {
		return ErrClosed
	}
	if nm.recvConn != nil {
		return nil
	}
	c, err := nm.openRecv()
	if err != nil {
		return fmt.Errorf("listen on control group %s: %w", nm.group, err)
	}
	nm.recvConn = c
	nm.listening.Store(true)
	nm.wg.Add(1)
	go nm.readLoop(c, nm.handleDirective)
	log.WithField("caller", "node manager").Infof("Listening on control group %s", nm.group)
	return nil
}

// Listening reports whether the control group socket is open.
func (nm *NodeManager) Listening() bool {
	return nm.listening.Load()
}

func (nm *NodeManager) conn() (net.PacketConn, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if nm.closed {
		return nil, ErrClosed
	}
	if nm.sendConn == nil {
		return nil, errors.New("send socket not open")
	}
	return nm.sendConn, nil
}

// Send writes d to the control group.
func (nm *NodeManager) Send(d *protocol.Directive) error {
	return nm.writeTo(d.Encode(), nm.group)
}

// Reply writes a unicast answer to the sender of a directive.
func (nm *NodeManager) Reply(to net.Addr, reply string) error {
	return nm.writeTo([]byte(reply), to)
}

func (nm *NodeManager) writeTo(b []byte, to net.Addr) error {
	c, err := nm.conn()
	if err != nil {
		return err
	}
	if _, err := c.WriteTo(b, to); err != nil {
		return fmt.Errorf("write to %s: %w", to, err)
	}
	nm.tracer.Trace(tracer.TraceOut, c.LocalAddr(), to, b)
	return nil
}

func (nm *NodeManager) readLoop(conn net.PacketConn, handle func(conn net.PacketConn, b []byte, from net.Addr)) {
	defer nm.wg.Done()
	buf := make([]byte, nm.opts.ReadBufSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithError(err).WithField("caller", "node manager").Error("Control group read")
			nm.lp.Cancel(fmt.Errorf("control group read: %w", err))
			return
		}
		b := make([]byte, n)
		copy(b, buf[:n])
		handle(conn, b, from)
	}
}

func (nm *NodeManager) handleDirective(conn net.PacketConn, b []byte, from net.Addr) {
	nm.tracer.Trace(tracer.TraceIn, conn.LocalAddr(), from, b)
	d, err := protocol.Decode(b)
	if err != nil {
		log.WithField("caller", "node manager").WithError(err).Debugf("Dropping datagram from %s", from)
		return
	}
	if d.Node != 0 && d.Node != nm.opts.NodeID {
		nm.peers.Seen(d.Node, from.String())
	}
	nm.lp.Dispatch(func() error {
		reply, err := nm.router.HandleDirective(d, from.String())
		if errors.Is(err, router.ErrNoHandler) {
			log.WithField("caller", "node manager").WithError(err).Debug("Ignoring directive")
			return nil
		}
		if err != nil {
			return fmt.Errorf("handle %s: %w", d.Type, err)
		}
		if reply == "" {
			return nil
		}
		// Unanswerable senders are logged, not fatal.
		if err := nm.Reply(from, reply); err != nil {
			log.WithField("caller", "node manager").WithError(err).Warnf("Reply to %s for %s dropped", from, d.Type)
		}
		return nil
	})
}

func (nm *NodeManager) handleReply(conn net.PacketConn, b []byte, from net.Addr) {
	nm.tracer.Trace(tracer.TraceIn, conn.LocalAddr(), from, b)
	if nm.OnReply != nil {
		nm.OnReply(from, string(b))
	}
}

// Close closes both sockets, waits for the reader goroutines and stops the peer table.
func (nm *NodeManager) Close() error {
	var err error
	nm.closeOnce.Do(func() {
		nm.mu.Lock()
		nm.closed = true
		for _, c := range []net.PacketConn{nm.sendConn, nm.recvConn} {
			if c == nil {
				continue
			}
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		nm.listening.Store(false)
		nm.mu.Unlock()
		nm.wg.Wait()
		nm.peers.Stop()
	})
	return err
}
