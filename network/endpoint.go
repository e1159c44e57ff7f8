package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"filenet/models"
)

var (
	// ErrNoAddress indicates an endpoint without a usable IPv4 address.
	ErrNoAddress = errors.New("network: endpoint has no address")
	// ErrNoPort indicates a connector endpoint without a port.
	ErrNoPort = errors.New("network: endpoint has no port")
)

// EndpointKind selects whether an endpoint binds or dials.
type EndpointKind int

const (
	KindListen EndpointKind = iota
	KindConnect
)

func (k EndpointKind) String() string {
	if k == KindListen {
		return "listen"
	}
	return "connect"
}

// EndpointState is the lifecycle state of an endpoint record.
type EndpointState string

const (
	StateReady     EndpointState = "READY"
	StateToListen  EndpointState = "TO_LISTEN"
	StateListening EndpointState = "LISTENING"
	StateAccepted  EndpointState = "ACCEPTED"
	StateToStop    EndpointState = "TO_STOP"
	StateFailed    EndpointState = "FAILED"
	StateToDelete  EndpointState = "TO_DELETE"
)

// Established is a control connection that completed its handshake.
type Established struct {
	Conn net.Conn
	Peer models.Peer
	Role Role
	// Source is the endpoint whose handshake produced the connection.
	Source *Endpoint
}

// handshakeTask is the single background job owned by a Listening endpoint.
type handshakeTask struct {
	done   chan struct{}
	result Established
	err    error
}

func (t *handshakeTask) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Endpoint is one user-configured address and the state of its handshake.
type Endpoint struct {
	mu sync.Mutex

	ip    [4]byte
	port  uint16
	kind  EndpointKind
	state EndpointState
	name  string

	options  LinkOptions
	listener net.Listener
	task     *handshakeTask
}

// NewEndpoint creates a Ready endpoint record.
func NewEndpoint(kind EndpointKind, ip [4]byte, port uint16, options LinkOptions) *Endpoint {
	return &Endpoint{
		ip:      ip,
		port:    port,
		kind:    kind,
		state:   StateReady,
		name:    options.Local.Name,
		options: options.withDefaults(),
	}
}

// ParseEndpoint builds an endpoint from "a.b.c.d:port" or "a.b.c.d".
func ParseEndpoint(kind EndpointKind, address string, options LinkOptions) (*Endpoint, error) {
	host, portText, err := net.SplitHostPort(address)
	if err != nil {
		host, portText = address, "0"
	}

	ip := net.ParseIP(host).To4()
	if ip == nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", address, ErrNoAddress)
	}
	port, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint port %q: %w", portText, err)
	}

	return NewEndpoint(kind, [4]byte(ip), uint16(port), options), nil
}

// String renders the endpoint as "a.b.c.d:port".
func (e *Endpoint) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addressLocked()
}

func (e *Endpoint) addressLocked() string {
	ip := net.IPv4(e.ip[0], e.ip[1], e.ip[2], e.ip[3])
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(e.port)))
}

// Kind returns whether the endpoint listens or connects.
func (e *Endpoint) Kind() EndpointKind {
	return e.kind
}

// State returns the current lifecycle state.
func (e *Endpoint) State() EndpointState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Port returns the configured, or after binding the actual, port.
func (e *Endpoint) Port() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port
}

// Start requests the endpoint to begin listening or connecting on the next Step.
func (e *Endpoint) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateReady || e.state == StateFailed {
		e.state = StateToListen
	}
}

// Stop requests the endpoint to release its socket on the next Step.
func (e *Endpoint) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateToDelete {
		e.state = StateToStop
	}
}

// Rearm makes an accepted listener wait for the next peer on the same port.
// The socket is released first, which also ends data-stream pairing for
// the link it served. Other endpoints are left alone.
func (e *Endpoint) Rearm() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.kind != KindListen || e.state != StateAccepted {
		return false
	}
	e.releaseLocked()
	e.setState(StateToListen)
	return true
}

// Delete tombstones the endpoint for the next sweep.
func (e *Endpoint) Delete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseLocked()
	e.state = StateToDelete
}

// Step advances the endpoint by at most one transition. It returns an
// Established connection exactly once, when a finished handshake task is
// consumed.
func (e *Endpoint) Step(ctx context.Context) (*Established, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateToListen:
		return nil, e.begin(ctx)
	case StateListening:
		return e.consume()
	case StateToStop:
		e.releaseLocked()
		e.port = 0
		e.setState(StateReady)
	}
	return nil, nil
}

func (e *Endpoint) begin(ctx context.Context) error {
	if e.ip == [4]byte{} {
		e.setState(StateReady)
		return ErrNoAddress
	}
	if e.kind == KindConnect && e.port == 0 {
		e.setState(StateReady)
		return ErrNoPort
	}

	if e.kind == KindListen {
		return e.startListening()
	}
	return e.startConnecting(ctx)
}

func (e *Endpoint) consume() (*Established, error) {
	if e.task == nil || !e.task.finished() {
		return nil, nil
	}

	task := e.task
	e.task = nil
	if task.err != nil {
		e.setState(StateFailed)
		return nil, task.err
	}

	e.setState(StateAccepted)
	established := task.result
	established.Source = e
	return &established, nil
}

// releaseLocked closes the listener, joins the task, and drops any
// handshaken connection nobody consumed.
func (e *Endpoint) releaseLocked() {
	if e.listener != nil {
		_ = e.listener.Close()
		e.listener = nil
	}
	if e.task != nil {
		<-e.task.done
		if e.task.err == nil && e.task.result.Conn != nil {
			_ = e.task.result.Conn.Close()
		}
		e.task = nil
	}
}

func (e *Endpoint) setState(next EndpointState) {
	logrus.WithFields(logrus.Fields{
		"endpoint": e.addressLocked(),
		"kind":     e.kind.String(),
		"from":     string(e.state),
		"to":       string(next),
	}).Debug("Endpoint state change")
	e.state = next
}

// EndpointSet is the list of configured endpoints.
type EndpointSet struct {
	mu        sync.Mutex
	endpoints []*Endpoint
}

// Add appends an endpoint.
func (s *EndpointSet) Add(endpoint *Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append(s.endpoints, endpoint)
}

// List returns a snapshot of the endpoints.
func (s *EndpointSet) List() []*Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Endpoint(nil), s.endpoints...)
}

// Sweep removes tombstoned endpoints and returns how many were removed.
func (s *EndpointSet) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.endpoints[:0]
	for _, endpoint := range s.endpoints {
		if endpoint.State() != StateToDelete {
			kept = append(kept, endpoint)
		}
	}
	removed := len(s.endpoints) - len(kept)
	for i := len(kept); i < len(s.endpoints); i++ {
		s.endpoints[i] = nil
	}
	s.endpoints = kept
	return removed
}

// Step advances every endpoint once and returns the connections established
// during this pass. Per-endpoint failures are logged, not returned.
func (s *EndpointSet) Step(ctx context.Context) []*Established {
	var out []*Established
	for _, endpoint := range s.List() {
		established, err := endpoint.Step(ctx)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"endpoint": endpoint.String(),
				"state":    string(endpoint.State()),
				"error":    err,
			}).Warn("Endpoint step failed")
			continue
		}
		if established != nil {
			out = append(out, established)
		}
	}
	s.Sweep()
	return out
}
