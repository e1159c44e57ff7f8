package network

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"filenet/models"
)

// startConnecting dials the endpoint address and spawns the handshake task.
// Must be called with e.mu held.
func (e *Endpoint) startConnecting(ctx context.Context) error {
	address := e.addressLocked()
	dialer := net.Dialer{Timeout: e.options.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		e.setState(StateFailed)
		return fmt.Errorf("dial %q: %w", address, err)
	}

	logrus.WithField("address", conn.RemoteAddr().String()).Info("Connected, starting handshake")

	local := models.Peer{IPAddr: address, Name: e.name}
	task := &handshakeTask{done: make(chan struct{})}
	e.task = task
	go dialControl(conn, task, local, e.options)

	e.setState(StateListening)
	return nil
}

func dialControl(conn net.Conn, task *handshakeTask, local models.Peer, options LinkOptions) {
	defer close(task.done)

	peer, err := connectorHandshake(conn, options.IOTimeout, local)
	if err != nil {
		_ = conn.Close()
		task.err = err
		return
	}

	task.result = Established{
		Conn: conn,
		Peer: peer,
		Role: ConnectorRole(options.DialTimeout),
	}
}
