//go:build debug
// +build debug

package tracer

import (
	"net"
	"time"

	"github.com/auraspeak/spectrum/pkg/peers"
)

// TraceDirection indicates the direction of a trace event.
type TraceDirection string

const (
	// TraceIn indicates a received datagram.
	TraceIn TraceDirection = "in"
	// TraceOut indicates a sent datagram.
	TraceOut TraceDirection = "out"
)

// TraceEvent represents a directive seen on the wire.
type TraceEvent struct {
	TS      time.Time      `json:"ts"`
	Dir     TraceDirection `json:"dir"`
	Local   string         `json:"local"`
	Remote  string         `json:"remote"`
	Len     int            `json:"len"`
	Payload []byte         `json:"payload"`
	Node    uint32         `json:"node"`
}

// Tracer traces directives and sends them to a channel.
type Tracer struct {
	ch chan TraceEvent // if nil, emitTrace is a no-op
}

// NewTracer creates a new Tracer with its own event channel.
func NewTracer() *Tracer {
	return &Tracer{
		ch: make(chan TraceEvent, 2000),
	}
}

// NewTracerWithChannel creates a tracer that sends events to the given channel.
// Used to wire the node manager's tracer to the Server's TraceCh.
func NewTracerWithChannel(ch chan TraceEvent) *Tracer {
	return &Tracer{ch: ch}
}

// NewTraceEvent creates a new trace event with the given parameters.
func NewTraceEvent(dir TraceDirection, local string, remote string, payloadLen int, payload []byte, node uint32) TraceEvent {
	return TraceEvent{
		TS:      time.Now(),
		Dir:     dir,
		Local:   local,
		Remote:  remote,
		Len:     payloadLen,
		Payload: payload,
		Node:    node,
	}
}

func (t *Tracer) emitTrace(dir TraceDirection, local, remote string, payload []byte, node uint32) {
	if t.ch == nil {
		return
	}

	if len(payload) > 1024 {
		payload = payload[:1024]
	}

	select {
	case t.ch <- NewTraceEvent(dir, local, remote, len(payload), payload, node):
	default:
	}
}

// Trace records a trace event for the given direction, addresses, and payload.
func (t *Tracer) Trace(dir TraceDirection, local net.Addr, remote net.Addr, payload []byte) {
	ls := "unknown"
	rs := "unknown"
	if local != nil && local.String() != "" {
		ls = local.String()
	}
	if remote != nil && remote.String() != "" {
		rs = remote.String()
	}
	node, _ := peers.Lookup(rs)
	t.emitTrace(dir, ls, rs, payload, node)
}
