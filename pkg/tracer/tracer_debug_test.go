//go:build debug
// +build debug

package tracer

import (
	"net"
	"testing"

	"github.com/auraspeak/spectrum/pkg/peers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrace(t *testing.T) {
	ch := make(chan TraceEvent, 1)
	tr := NewTracerWithChannel(ch)
	local := &net.UDPAddr{IP: net.IPv4(239, 202, 104, 1), Port: 4701}
	remote := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 40001}
	peers.Remember(remote.String(), 85)

	tr.Trace(TraceIn, local, remote, []byte("join 85 2412000 20000"))
	require.Len(t, ch, 1)
	ev := <-ch
	assert.Equal(t, TraceIn, ev.Dir)
	assert.Equal(t, "239.202.104.1:4701", ev.Local)
	assert.Equal(t, "10.0.0.7:40001", ev.Remote)
	assert.Equal(t, uint32(85), ev.Node)
	assert.Equal(t, 21, ev.Len)
}

func TestTrace_FullChannelDrops(t *testing.T) {
	ch := make(chan TraceEvent, 1)
	tr := NewTracerWithChannel(ch)
	tr.Trace(TraceOut, nil, nil, []byte("start"))
	tr.Trace(TraceOut, nil, nil, []byte("stop"))
	require.Len(t, ch, 1)
	ev := <-ch
	assert.Equal(t, "unknown", ev.Remote)
	assert.Equal(t, []byte("start"), ev.Payload)
}

func TestTrace_NilChannel(t *testing.T) {
	tr := &Tracer{}
	assert.NotPanics(t, func() {
		tr.Trace(TraceOut, nil, nil, []byte("start"))
	})
}
