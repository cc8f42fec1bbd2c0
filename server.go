// Package spectrum runs one node of the distributed channel registry.
//
// A Server joins the control group, keeps the node's channel table and serves the local
// registrations made through its façade methods. All registry work runs on one event loop
// goroutine; the façade marshals calls onto it.
package spectrum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/auraspeak/spectrum/internal/config"
	"github.com/auraspeak/spectrum/internal/loop"
	"github.com/auraspeak/spectrum/internal/node"
	"github.com/auraspeak/spectrum/internal/protocol"
	"github.com/auraspeak/spectrum/internal/registry"
	"github.com/auraspeak/spectrum/internal/router"
	"github.com/auraspeak/spectrum/pkg/command"
	"github.com/auraspeak/spectrum/pkg/tracer"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const queueSize = 256

// controlPlane is the transport side of the server. *node.NodeManager implements it.
type controlPlane interface {
	registry.Transport
	Open() error
	Close() error
	Peers() *node.PeerTable
}

// Server is one node of the channel registry.
type Server struct {
	ServerState

	IsAlive int32

	// CommandCh accepts commands from outside the server, e.g. signal handlers.
	CommandCh chan command.InternalCommand
	// OutCommandCh reports state changes. Sends never block.
	OutCommandCh chan command.InternalCommand
	TraceCh      chan tracer.TraceEvent

	lp              *loop.Loop
	cp              controlPlane
	reg             *registry.Registry
	directiveRouter *router.Router

	srvConfig *config.Config
}

// ServerState holds the current state of the server. Only touched on the event loop.
type ServerState struct {
	Running bool `json:"running"`
}

// NewServer creates a Server from a validated configuration. The server stops when ctx
// is cancelled.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: configuration is required")
	}
	lp := loop.New(ctx, queueSize)
	r := router.NewRouter()
	traceCh := make(chan tracer.TraceEvent, 2000)
	nm, err := node.NewNodeManager(node.Options{
		NodeID:    protocol.NodeID(cfg.Node.ID),
		Group:     cfg.ConsoleGroupAddr(),
		Interface: cfg.Registry.Interface,
		TTL:       cfg.Registry.MulticastTTL,
		PeerTTL:   cfg.PeerTTLDuration(),
	}, r, lp, traceCh)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	srv, err := newServer(cfg, lp, r, nm)
	if err != nil {
		nm.Close()
		return nil, err
	}
	srv.TraceCh = traceCh
	return srv, nil
}

func newServer(cfg *config.Config, lp *loop.Loop, r *router.Router, cp controlPlane) (*Server, error) {
	reg, err := registry.New(registry.Options{
		NodeID:       protocol.NodeID(cfg.Node.ID),
		AddressRange: cfg.AddressPrefix(),
		PortBase:     cfg.Registry.PortBase,
		Transport:    cp,
		Idler:        lp,
		Logger:       log.StandardLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	srv := &Server{
		CommandCh:       make(chan command.InternalCommand, 10),
		OutCommandCh:    make(chan command.InternalCommand, 10),
		lp:              lp,
		cp:              cp,
		reg:             reg,
		directiveRouter: r,
		srvConfig:       cfg,
	}
	reg.SetCollisionCallback(func(ch protocol.Channel) {
		log.WithField("caller", "server").WithField("channel", ch.String()).Warn("Channel overlaps a different allocated channel")
	})
	reg.Subscribe(func(e registry.Entry, n protocol.NodeID, change registry.ChangeType) {
		log.WithFields(log.Fields{
			"caller":    "server",
			"frequency": e.Frequency,
			"bandwidth": e.Bandwidth,
			"node":      n,
			"users":     e.NUsers,
		}).Debugf("Channel population %s", change)
	})
	srv.registerHandlers()
	return srv, nil
}

// OnDirective registers a DirectiveHandler for a directive type, replacing the default one.
func (s *Server) OnDirective(t protocol.DirectiveType, handler router.DirectiveHandler) {
	log.WithField("caller", "server").Debugf("Registering directive handler for: %s", t)
	s.directiveRouter.OnDirective(t, handler)
}

// Run opens the control plane and runs the event loop until the context passed to
// NewServer ends, Stop is called or a transport failure occurs.
func (s *Server) Run() error {
	if !atomic.CompareAndSwapInt32(&s.IsAlive, 0, 1) {
		return errors.New("server is already running")
	}
	defer atomic.StoreInt32(&s.IsAlive, 0)
	s.directiveRouter.ListRoutes()

	if err := s.cp.Open(); err != nil {
		return err
	}
	defer s.cp.Close()

	// Static channels are registered while halted; the control group is joined once the
	// loop has drained them, with or without any channels.
	s.lp.Dispatch(s.allocateStatic)
	s.lp.Dispatch(func() error {
		s.lp.OnIdle(registry.ListenIdleEvent, s.listen)
		return nil
	})
	if s.srvConfig.Registry.Autostart {
		timer := s.lp.ScheduleTask(s.startAllocation, s.srvConfig.StartDelayDuration())
		defer timer.Stop()
	}

	g, ctx := errgroup.WithContext(s.lp.Context())
	g.Go(s.lp.Run)
	g.Go(func() error {
		s.commandLoop(ctx)
		return nil
	})
	log.WithField("caller", "server").WithField("node", s.srvConfig.Node.ID).Info("Node started")
	return g.Wait()
}

// Stop terminates Run.
func (s *Server) Stop() {
	s.lp.Cancel(context.Canceled)
}

func (s *Server) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.CommandCh:
			log.WithField("caller", "server").Debugf("Command: %s", cmd)
			switch cmd {
			case command.CmdListChannels:
				s.lp.Dispatch(func() error {
					var b strings.Builder
					if err := s.writeList(&b); err != nil {
						return err
					}
					log.WithField("caller", "server").Info("Channel table\n" + b.String())
					return nil
				})
			case command.CmdStartAllocation:
				s.lp.Dispatch(s.startAllocation)
			case command.CmdStopAllocation:
				s.lp.Dispatch(func() error {
					s.stopAllocation()
					return nil
				})
			}
		}
	}
}

func (s *Server) allocateStatic() error {
	for _, ch := range s.srvConfig.Channels {
		c := protocol.Channel{Frequency: ch.Frequency, Bandwidth: ch.Bandwidth}
		iface := ch.Interface
		err := s.reg.Allocate(iface, c, func(addr netip.AddrPort) {
			log.WithFields(log.Fields{
				"caller":    "server",
				"interface": iface,
				"channel":   c.String(),
			}).Infof("Channel address %s", protocol.FormatAddress(addr))
		})
		if err != nil {
			return fmt.Errorf("static channel %s for interface %d: %w", c, iface, err)
		}
	}
	return nil
}

func (s *Server) listen() error {
	if err := s.cp.Listen(); err != nil {
		return fmt.Errorf("%w: open control group: %w", registry.ErrTransport, err)
	}
	return nil
}

func (s *Server) startAllocation() error {
	if err := s.reg.Start(); err != nil {
		return err
	}
	s.setRunning(true)
	return nil
}

func (s *Server) stopAllocation() {
	s.reg.Stop()
	s.setRunning(false)
}

// setRunning records the registry state and notifies the state update channel.
func (s *Server) setRunning(val bool) {
	if s.Running == val {
		return
	}
	s.Running = val
	select {
	case s.OutCommandCh <- command.CmdUpdateServerState:
	default:
	}
}

// fatal cancels the loop for transport failures and passes every error through.
func (s *Server) fatal(err error) error {
	if errors.Is(err, registry.ErrTransport) {
		s.lp.Cancel(err)
	}
	return err
}

func call(s *Server, fn func() error) error {
	_, err := loop.Call(s.lp, func() (struct{}, error) {
		return struct{}{}, s.fatal(fn())
	})
	return err
}

// Allocate registers local interest of interface iface in ch. cb runs on the event loop
// with the channel's current address and again on every change.
func (s *Server) Allocate(iface uint32, ch protocol.Channel, cb registry.AddressCallback) error {
	return call(s, func() error { return s.reg.Allocate(iface, ch, cb) })
}

// Release drops the registration of iface.
func (s *Server) Release(iface uint32) error {
	return call(s, func() error {
		if !s.reg.Registered(iface) {
			return fmt.Errorf("interface %d is not registered", iface)
		}
		return s.reg.Release(iface)
	})
}

// Start activates address allocation.
func (s *Server) Start() error {
	return call(s, s.startAllocation)
}

// StopAllocation halts address allocation without stopping the server.
func (s *Server) StopAllocation() error {
	return call(s, func() error {
		s.stopAllocation()
		return nil
	})
}

// SendPoll asks every node for its local user count on ch. Answers arrive as replies.
func (s *Server) SendPoll(ch protocol.Channel) error {
	return call(s, func() error { return s.reg.SendPoll(ch) })
}

// NextAddress makes index the next pool slot tried by the allocator.
func (s *Server) NextAddress(index uint32) error {
	return call(s, func() error {
		s.reg.NextAddress(index)
		return nil
	})
}

// Entries returns a snapshot of the channel table.
func (s *Server) Entries() ([]registry.Entry, error) {
	return loop.Call(s.lp, func() ([]registry.Entry, error) {
		return s.reg.Entries(), nil
	})
}

// State returns a copy of the server state.
func (s *Server) State() (ServerState, error) {
	return loop.Call(s.lp, func() (ServerState, error) {
		return s.ServerState, nil
	})
}

// List writes the channel table and the peer table to w.
func (s *Server) List(w io.Writer) error {
	return call(s, func() error { return s.writeList(w) })
}

func (s *Server) writeList(w io.Writer) error {
	if err := s.reg.List(w); err != nil {
		return err
	}
	peers := s.cp.Peers().Peers()
	if len(peers) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "%10s  %-21s  %s\n", "PEER", "ADDRESS", "EXPIRES"); err != nil {
		return err
	}
	for _, p := range peers {
		if _, err := fmt.Fprintf(w, "%10d  %-21s  %s\n", p.Node, p.Addr, time.Until(p.ExpiresAt).Round(time.Second)); err != nil {
			return err
		}
	}
	return nil
}
