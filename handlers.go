package spectrum

import (
	"errors"
	"strconv"
	"strings"

	"github.com/auraspeak/spectrum/internal/protocol"
	"github.com/auraspeak/spectrum/internal/registry"
	log "github.com/sirupsen/logrus"
)

func (s *Server) registerHandlers() {
	s.OnDirective(protocol.DirectiveAdd, s.handleAdd)
	s.OnDirective(protocol.DirectiveDel, s.handleDel)
	s.OnDirective(protocol.DirectiveJoin, s.handleJoin)
	s.OnDirective(protocol.DirectiveLeave, s.handleLeave)
	s.OnDirective(protocol.DirectivePoll, s.handlePoll)
	s.OnDirective(protocol.DirectiveStart, s.handleStart)
	s.OnDirective(protocol.DirectiveStop, s.handleStop)
	s.OnDirective(protocol.DirectiveList, s.handleList)
	if debug {
		s.OnDirective(protocol.DirectiveNext, s.handleNext)
	}
}

// handled stops the node on transport failures. Other failures only affect the directive
// at hand and are logged.
func (s *Server) handled(d *protocol.Directive, err error) error {
	if err == nil || errors.Is(err, registry.ErrTransport) {
		return s.fatal(err)
	}
	log.WithField("caller", "server").WithError(err).Warnf("Directive %s from node %d failed", d.Type, d.Node)
	return nil
}

func (s *Server) handleAdd(d *protocol.Directive, clientAddr string) (string, error) {
	return "", s.handled(d, s.reg.Add(d.Node, d.Channel, d.Address))
}

func (s *Server) handleDel(d *protocol.Directive, clientAddr string) (string, error) {
	s.reg.Del(d.Node, d.Channel)
	return "", nil
}

func (s *Server) handleJoin(d *protocol.Directive, clientAddr string) (string, error) {
	s.reg.Join(d.Node, d.Channel)
	return "", nil
}

func (s *Server) handleLeave(d *protocol.Directive, clientAddr string) (string, error) {
	return "", s.handled(d, s.reg.Leave(d.Node, d.Channel))
}

// handlePoll answers with the number of local users. Our own polls are not answered.
func (s *Server) handlePoll(d *protocol.Directive, clientAddr string) (string, error) {
	if d.Node == s.reg.NodeID() {
		return "", nil
	}
	return strconv.Itoa(s.reg.Poll(d.Node, d.Channel)), nil
}

func (s *Server) handleStart(d *protocol.Directive, clientAddr string) (string, error) {
	log.WithField("caller", "server").WithField("from", clientAddr).Debug("Start requested")
	return "", s.handled(d, s.startAllocation())
}

func (s *Server) handleStop(d *protocol.Directive, clientAddr string) (string, error) {
	log.WithField("caller", "server").WithField("from", clientAddr).Debug("Stop requested")
	s.stopAllocation()
	return "", nil
}

func (s *Server) handleList(d *protocol.Directive, clientAddr string) (string, error) {
	var b strings.Builder
	if err := s.writeList(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (s *Server) handleNext(d *protocol.Directive, clientAddr string) (string, error) {
	log.WithField("caller", "server").Debugf("Next address index set to %d", d.Index)
	s.reg.NextAddress(d.Index)
	return "", nil
}
