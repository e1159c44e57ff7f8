package transfer

import (
	"net"
	"sync"
)

// StreamPool holds the data connections currently free for sending.
type StreamPool struct {
	mu    sync.Mutex
	conns []net.Conn
}

// Add makes conn available.
func (p *StreamPool) Add(conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = append(p.conns, conn)
}

// Checkout takes the most recently returned connection, or nil when none is free.
func (p *StreamPool) Checkout() net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return nil
	}
	last := len(p.conns) - 1
	conn := p.conns[last]
	p.conns[last] = nil
	p.conns = p.conns[:last]
	return conn
}

// Return gives a checked out connection back.
func (p *StreamPool) Return(conn net.Conn) {
	p.Add(conn)
}

// Drop closes a checked out connection instead of returning it.
func (p *StreamPool) Drop(conn net.Conn) {
	_ = conn.Close()
}

// Len is the number of free connections.
func (p *StreamPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close closes every free connection.
func (p *StreamPool) Close() {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
