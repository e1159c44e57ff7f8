package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"filenet/models"
)

const (
	DefaultKeepAliveDelay      = 1000 * time.Millisecond
	DefaultPardonDelay         = 200 * time.Millisecond
	DefaultRecoveryDelay       = 2000 * time.Millisecond
	DefaultMaxRecoveryFailures = 3
	DefaultPairingTimeout      = 5 * time.Second
	DefaultDialTimeout         = 2500 * time.Millisecond
)

var (
	// ErrHandshake indicates the first signal on a control connection was not Accept.
	ErrHandshake = errors.New("network: handshake rejected")
)

// LinkOptions tunes the control loop. Zero fields take the package defaults.
type LinkOptions struct {
	Local models.Peer

	IOTimeout           time.Duration
	KeepAliveDelay      time.Duration
	PardonDelay         time.Duration
	RecoveryDelay       time.Duration
	MaxRecoveryFailures int
	PairingTimeout      time.Duration
	DialTimeout         time.Duration
}

func (o LinkOptions) withDefaults() LinkOptions {
	out := o
	if out.IOTimeout <= 0 {
		out.IOTimeout = DefaultIOTimeout
	}
	if out.KeepAliveDelay <= 0 {
		out.KeepAliveDelay = DefaultKeepAliveDelay
	}
	if out.PardonDelay <= 0 {
		out.PardonDelay = DefaultPardonDelay
	}
	if out.RecoveryDelay <= 0 {
		out.RecoveryDelay = DefaultRecoveryDelay
	}
	if out.MaxRecoveryFailures <= 0 {
		out.MaxRecoveryFailures = DefaultMaxRecoveryFailures
	}
	if out.PairingTimeout <= 0 {
		out.PairingTimeout = DefaultPairingTimeout
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	return out
}

// Role is the only thing that differs between the two ends of a link: how an
// additional physical connection is obtained during pairing.
type Role interface {
	// OpenStream blocks until a new data connection to the peer exists.
	OpenStream(ctx context.Context, control net.Conn) (net.Conn, error)
	// Leads reports whether this side sends the first token on a fresh link.
	Leads() bool
	String() string
}

type listenerRole struct {
	listener net.Listener
	timeout  time.Duration
}

// ListenerRole pairs by accepting on the socket the control connection arrived on.
func ListenerRole(listener net.Listener, timeout time.Duration) Role {
	if timeout <= 0 {
		timeout = DefaultPairingTimeout
	}
	return &listenerRole{listener: listener, timeout: timeout}
}

func (r *listenerRole) OpenStream(ctx context.Context, _ net.Conn) (net.Conn, error) {
	type deadliner interface{ SetDeadline(time.Time) error }
	if d, ok := r.listener.(deadliner); ok {
		_ = d.SetDeadline(time.Now().Add(r.timeout))
		defer func() { _ = d.SetDeadline(time.Time{}) }()
	}

	stop := context.AfterFunc(ctx, func() {
		if d, ok := r.listener.(deadliner); ok {
			_ = d.SetDeadline(time.Now())
		}
	})
	defer stop()

	conn, err := r.listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept data stream: %w", err)
	}
	return conn, nil
}

func (r *listenerRole) Leads() bool    { return false }
func (r *listenerRole) String() string { return "listener" }

type connectorRole struct {
	timeout time.Duration
}

// ConnectorRole pairs by dialing the peer address observed on the control connection.
func ConnectorRole(timeout time.Duration) Role {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return &connectorRole{timeout: timeout}
}

func (r *connectorRole) OpenStream(ctx context.Context, control net.Conn) (net.Conn, error) {
	address := control.RemoteAddr().String()
	dialer := net.Dialer{Timeout: r.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial data stream %q: %w", address, err)
	}
	return conn, nil
}

func (r *connectorRole) Leads() bool    { return true }
func (r *connectorRole) String() string { return "connector" }

// connectorHandshake introduces this side and waits for the listener's Accept.
func connectorHandshake(conn net.Conn, timeout time.Duration, local models.Peer) (models.Peer, error) {
	if err := WriteSignal(conn, timeout, Accept(local.IPAddr, local.Name)); err != nil {
		return models.Peer{}, fmt.Errorf("send handshake: %w", err)
	}

	reply, err := ReadSignal(conn, timeout)
	if err != nil {
		return models.Peer{}, fmt.Errorf("read handshake reply: %w", err)
	}
	if !reply.IsAccept() {
		return models.Peer{}, fmt.Errorf("%w: got %s", ErrHandshake, reply)
	}

	logrus.WithFields(logrus.Fields{
		"peer_ip":   reply.IPAddr,
		"peer_name": reply.Name,
	}).Info("Connected to listener")
	return models.Peer{IPAddr: reply.IPAddr, Name: reply.Name}, nil
}

// listenerHandshake expects Accept as the first signal and answers with its own.
func listenerHandshake(conn net.Conn, timeout time.Duration, local models.Peer) (models.Peer, error) {
	first, err := ReadSignal(conn, timeout)
	if err != nil {
		return models.Peer{}, fmt.Errorf("read handshake: %w", err)
	}
	if !first.IsAccept() {
		return models.Peer{}, fmt.Errorf("%w: got %s", ErrHandshake, first)
	}

	if err := WriteSignal(conn, timeout, Accept(local.IPAddr, local.Name)); err != nil {
		return models.Peer{}, fmt.Errorf("send handshake reply: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"peer_ip":   first.IPAddr,
		"peer_name": first.Name,
	}).Info("Accepted connector")
	return models.Peer{IPAddr: first.IPAddr, Name: first.Name}, nil
}
