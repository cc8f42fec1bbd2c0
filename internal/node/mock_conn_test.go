package node

import (
	"net"
	"sync"
	"time"
)

type datagram struct {
	payload []byte
	addr    net.Addr
	err     error
}

// mockPacketConn is a mock implementation of net.PacketConn for testing
type mockPacketConn struct {
	reads     chan datagram
	closed    chan struct{}
	closeOnce sync.Once
	localAddr net.Addr

	mu       sync.Mutex
	writes   []datagram
	writeErr error
}

func newMockPacketConn(localAddr net.Addr) *mockPacketConn {
	return &mockPacketConn{
		reads:     make(chan datagram, 16),
		closed:    make(chan struct{}),
		localAddr: localAddr,
	}
}

// deliver queues a datagram for ReadFrom.
func (m *mockPacketConn) deliver(payload string, from net.Addr) {
	m.reads <- datagram{payload: []byte(payload), addr: from}
}

// fail makes the next ReadFrom return err.
func (m *mockPacketConn) fail(err error) {
	m.reads <- datagram{err: err}
}

// ReadFrom implements net.PacketConn
func (m *mockPacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case d := <-m.reads:
		if d.err != nil {
			return 0, nil, d.err
		}
		return copy(b, d.payload), d.addr, nil
	case <-m.closed:
		return 0, nil, net.ErrClosed
	}
}

// WriteTo implements net.PacketConn
func (m *mockPacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isClosed() {
		return 0, net.ErrClosed
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.writes = append(m.writes, datagram{payload: append([]byte(nil), b...), addr: addr})
	return len(b), nil
}

// Close implements net.PacketConn
func (m *mockPacketConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockPacketConn) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// LocalAddr implements net.PacketConn
func (m *mockPacketConn) LocalAddr() net.Addr { return m.localAddr }

// SetDeadline implements net.PacketConn
func (m *mockPacketConn) SetDeadline(t time.Time) error { return nil }

// SetReadDeadline implements net.PacketConn
func (m *mockPacketConn) SetReadDeadline(t time.Time) error { return nil }

// SetWriteDeadline implements net.PacketConn
func (m *mockPacketConn) SetWriteDeadline(t time.Time) error { return nil }

func (m *mockPacketConn) setWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// written returns payloads and destinations written so far.
func (m *mockPacketConn) written() []datagram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]datagram(nil), m.writes...)
}
