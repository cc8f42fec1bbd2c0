package spectrum

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/auraspeak/spectrum/internal/config"
	"github.com/auraspeak/spectrum/internal/loop"
	"github.com/auraspeak/spectrum/internal/node"
	"github.com/auraspeak/spectrum/internal/protocol"
	"github.com/auraspeak/spectrum/internal/router"
	"github.com/stretchr/testify/require"
)

// fakePlane is an in-memory controlPlane that records every directive sent.
type fakePlane struct {
	mu        sync.Mutex
	sent      []string
	listening bool
	listens   int
	opened    bool
	closed    bool
	sendErr   error

	peers     *node.PeerTable
	closeOnce sync.Once
}

func newFakePlane() *fakePlane {
	return &fakePlane{peers: node.NewPeerTable(time.Minute)}
}

func (f *fakePlane) Send(d *protocol.Directive) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, d.String())
	return nil
}

func (f *fakePlane) Listen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listens++
	f.listening = true
	return nil
}

func (f *fakePlane) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening
}

func (f *fakePlane) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = true
	return nil
}

func (f *fakePlane) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		f.peers.Stop()
	})
	return nil
}

func (f *fakePlane) Peers() *node.PeerTable { return f.peers }

func (f *fakePlane) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakePlane) take() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sent
	f.sent = nil
	return s
}

func (f *fakePlane) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Node.ID = 100
	cfg.Registry.AddressRange = "239.203.108.0/22"
	cfg.Registry.PortBase = 12264
	cfg.Registry.Autostart = false
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *fakePlane) {
	t.Helper()
	fp := newFakePlane()
	t.Cleanup(func() { fp.Close() })
	srv, err := newServer(cfg, loop.New(context.Background(), 16), router.NewRouter(), fp)
	require.NoError(t, err)
	return srv, fp
}

// runServer starts srv and returns a channel with the result of Run.
func runServer(t *testing.T, srv *Server) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- srv.Run() }()
	require.Eventually(t, func() bool {
		_, err := srv.State()
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}
