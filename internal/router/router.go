// Package router provides directive routing functionality for the server.
package router

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/auraspeak/spectrum/internal/protocol"
	log "github.com/sirupsen/logrus"
)

// ErrNoHandler is returned for directives without a registered handler.
var ErrNoHandler = errors.New("no handler found")

// DirectiveHandler handles a directive received from clientAddr. A non-empty reply is
// sent back to the sender.
type DirectiveHandler func(d *protocol.Directive, clientAddr string) (reply string, err error)

// Router routes incoming directives to their registered handlers based on directive type.
type Router struct {
	handlers sync.Map // protocol.DirectiveType -> DirectiveHandler
}

// NewRouter creates a new Router.
func NewRouter() *Router {
	return &Router{
		handlers: sync.Map{},
	}
}

// OnDirective registers a new DirectiveHandler for a specific directive type
// Example:
//
//	router.OnDirective(protocol.DirectiveJoin, func(d *protocol.Directive, clientAddr string) (string, error) {
//		fmt.Println("node", d.Node, "joined", d.Channel)
//		return "", nil
//	})
func (r *Router) OnDirective(t protocol.DirectiveType, handler DirectiveHandler) {
	r.handlers.Store(t, handler)
}

// HandleDirective handles a directive from a client
// Example:
//
//	reply, err := router.HandleDirective(d, clientAddr)
//	if err != nil {
//		fmt.Println("Error handling directive:", err)
//	}
func (r *Router) HandleDirective(d *protocol.Directive, clientAddr string) (string, error) {
	if !protocol.IsValidDirectiveType(d.Type) {
		return "", fmt.Errorf("%w: invalid directive type %s", ErrNoHandler, d.Type)
	}
	handler, ok := r.handlers.Load(d.Type)
	if !ok {
		return "", fmt.Errorf("%w for directive type: %s", ErrNoHandler, d.Type)
	}
	handlerFunc := handler.(DirectiveHandler)
	return handlerFunc(d, clientAddr)
}

// Routes returns the registered directive types in ascending order.
func (r *Router) Routes() []protocol.DirectiveType {
	var routes []protocol.DirectiveType
	r.handlers.Range(func(key, value interface{}) bool {
		routes = append(routes, key.(protocol.DirectiveType))
		return true
	})
	sort.Slice(routes, func(i, j int) bool { return routes[i] < routes[j] })
	return routes
}

// ListRoutes logs all registered directive routes.
func (r *Router) ListRoutes() {
	for _, t := range r.Routes() {
		log.WithField("caller", "router").Debugf("Directive type: %s", t)
	}
}
