package spectrum

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/auraspeak/spectrum/internal/config"
	"github.com/auraspeak/spectrum/internal/protocol"
	"github.com/auraspeak/spectrum/internal/registry"
	"github.com/auraspeak/spectrum/pkg/command"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var wifi = protocol.Channel{Frequency: 2412000, Bandwidth: 20000}

func TestNewServer_NilConfig(t *testing.T) {
	srv, err := NewServer(context.Background(), nil)
	assert.Nil(t, srv)
	assert.Error(t, err)
}

func TestNewServer_WithConfig(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv, err := NewServer(context.Background(), testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, srv)
	assert.NotNil(t, srv.directiveRouter)
	assert.NotNil(t, srv.reg)
	assert.NotNil(t, srv.OutCommandCh)
	assert.NotNil(t, srv.TraceCh)
	assert.Equal(t, protocol.NodeID(100), srv.reg.NodeID())
	prefix, port := srv.reg.AddressRange()
	assert.Equal(t, "239.203.108.0/22", prefix.String())
	assert.Equal(t, uint16(12264), port)
	require.NoError(t, srv.cp.Close())
}

func TestNewServer_UnvalidatedConfig(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := config.Default()
	cfg.Node.ID = 1
	// Validate was never called, so no console group is known.
	srv, err := NewServer(context.Background(), cfg)
	assert.Nil(t, srv)
	assert.Error(t, err)
}

func TestRun_StaticChannelsAndAutostart(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig(t)
	cfg.Registry.Autostart = true
	cfg.Channels = []config.Channel{
		{Interface: 1, Frequency: 2412000, Bandwidth: 20000},
		{Interface: 2, Frequency: 2437000, Bandwidth: 20000},
	}
	srv, fp := newTestServer(t, cfg)
	done := runServer(t, srv)

	require.Eventually(t, func() bool { return fp.count() == 4 }, 5*time.Second, 10*time.Millisecond)
	var verbs []string
	for _, d := range fp.take() {
		verbs = append(verbs, strings.Fields(d)[0]+" "+strings.Fields(d)[2])
	}
	assert.Equal(t, []string{"add 2412000", "join 2412000", "add 2437000", "join 2437000"}, verbs)
	assert.Equal(t, command.CmdUpdateServerState, <-srv.OutCommandCh)

	entries, err := srv.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, protocol.NodeID(100), e.OwnerNodeID)
		assert.Equal(t, uint(1), e.NUsers)
		assert.True(t, cfg.AddressPrefix().Contains(e.Address.Addr()))
	}
	state, err := srv.State()
	require.NoError(t, err)
	assert.True(t, state.Running)
	assert.True(t, fp.Listening())

	srv.Stop()
	assert.NoError(t, waitRun(t, done))
	assert.True(t, fp.closed)
	assert.True(t, fp.opened)
}

func TestRun_ListensWithoutAutostart(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv, fp := newTestServer(t, testConfig(t))
	done := runServer(t, srv)

	require.Eventually(t, fp.Listening, 5*time.Second, 10*time.Millisecond)
	state, err := srv.State()
	require.NoError(t, err)
	assert.False(t, state.Running, "allocation waits for a start directive")
	assert.Empty(t, fp.take())

	srv.Stop()
	assert.NoError(t, waitRun(t, done))
}

func TestRun_StaticChannelsListenOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig(t)
	cfg.Channels = []config.Channel{{Interface: 1, Frequency: 2412000, Bandwidth: 20000}}
	srv, fp := newTestServer(t, cfg)
	done := runServer(t, srv)

	require.Eventually(t, fp.Listening, 5*time.Second, 10*time.Millisecond)
	_, err := srv.Entries()
	require.NoError(t, err)
	fp.mu.Lock()
	assert.Equal(t, 1, fp.listens)
	fp.mu.Unlock()

	srv.Stop()
	assert.NoError(t, waitRun(t, done))
}

func TestRun_Twice(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv, _ := newTestServer(t, testConfig(t))
	done := runServer(t, srv)

	assert.Error(t, srv.Run())

	srv.Stop()
	assert.NoError(t, waitRun(t, done))
}

func TestFacade(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv, fp := newTestServer(t, testConfig(t))
	done := runServer(t, srv)

	require.NoError(t, srv.Start())
	require.NoError(t, srv.NextAddress(1))

	addrs := make(chan netip.AddrPort, 4)
	require.NoError(t, srv.Allocate(1, wifi, func(a netip.AddrPort) { addrs <- a }))
	assert.Equal(t, netip.MustParseAddrPort("239.203.108.1:12265"), <-addrs)
	assert.Equal(t, []string{
		"add 100 2412000 20000 239.203.108.1:12265",
		"join 100 2412000 20000",
	}, fp.take())

	assert.Error(t, srv.Allocate(1, wifi, nil), "duplicate interface")
	assert.Error(t, srv.Release(7), "unknown interface")

	require.NoError(t, srv.SendPoll(wifi))
	assert.Equal(t, []string{"poll 100 2412000 20000"}, fp.take())

	var buf bytes.Buffer
	require.NoError(t, srv.List(&buf))
	assert.Contains(t, buf.String(), "239.203.108.1:12265")
	assert.True(t, strings.HasSuffix(buf.String(), " running\n"))

	require.NoError(t, srv.Release(1))
	assert.Equal(t, []string{
		"leave 100 2412000 20000",
		"del 100 2412000 20000",
	}, fp.take())

	require.NoError(t, srv.StopAllocation())
	state, err := srv.State()
	require.NoError(t, err)
	assert.False(t, state.Running)

	srv.Stop()
	assert.NoError(t, waitRun(t, done))

	_, err = srv.Entries()
	assert.Error(t, err)
}

func TestFacade_TransportErrorStopsServer(t *testing.T) {
	defer goleak.VerifyNone(t)
	srv, fp := newTestServer(t, testConfig(t))
	done := runServer(t, srv)
	require.NoError(t, srv.Start())

	down := errors.New("network unreachable")
	fp.setSendErr(down)
	err := srv.Allocate(1, wifi, nil)
	assert.ErrorIs(t, err, registry.ErrTransport)

	err = waitRun(t, done)
	assert.ErrorIs(t, err, down)
}

func TestRun_AutostartFailureStopsServer(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig(t)
	cfg.Registry.Autostart = true
	cfg.Channels = []config.Channel{{Interface: 1, Frequency: 2412000, Bandwidth: 20000}}
	srv, fp := newTestServer(t, cfg)
	fp.setSendErr(errors.New("network unreachable"))

	done := make(chan error, 1)
	go func() { done <- srv.Run() }()
	assert.ErrorIs(t, waitRun(t, done), registry.ErrTransport)
}

func TestCommands(t *testing.T) {
	defer goleak.VerifyNone(t)
	hook := logtest.NewGlobal()
	defer log.StandardLogger().ReplaceHooks(make(log.LevelHooks))

	srv, _ := newTestServer(t, testConfig(t))
	done := runServer(t, srv)

	srv.CommandCh <- command.CmdStartAllocation
	require.Eventually(t, func() bool {
		state, err := srv.State()
		return err == nil && state.Running
	}, 5*time.Second, 10*time.Millisecond)

	srv.CommandCh <- command.CmdListChannels
	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if strings.HasPrefix(e.Message, "Channel table") {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	srv.CommandCh <- command.CmdStopAllocation
	require.Eventually(t, func() bool {
		state, err := srv.State()
		return err == nil && !state.Running
	}, 5*time.Second, 10*time.Millisecond)

	srv.Stop()
	assert.NoError(t, waitRun(t, done))
}

func TestOnDirective_Override(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(t))
	called := false
	srv.OnDirective(protocol.DirectiveStop, func(d *protocol.Directive, clientAddr string) (string, error) {
		called = true
		return "", nil
	})
	_, err := srv.directiveRouter.HandleDirective(&protocol.Directive{Type: protocol.DirectiveStop}, "10.0.0.7:40001")
	require.NoError(t, err)
	assert.True(t, called)
}
