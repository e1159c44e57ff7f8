package network

import (
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"filenet/models"
)

// startListening binds the endpoint address and spawns the accept task.
// Must be called with e.mu held.
func (e *Endpoint) startListening() error {
	address := e.addressLocked()
	listener, err := net.Listen("tcp", address)
	if err != nil {
		e.setState(StateToDelete)
		return fmt.Errorf("listen on %q: %w", address, err)
	}

	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		e.port = uint16(tcpAddr.Port)
	}
	e.listener = listener

	local := models.Peer{IPAddr: e.addressLocked(), Name: e.name}
	task := &handshakeTask{done: make(chan struct{})}
	e.task = task

	logrus.WithField("address", local.IPAddr).Info("Listening for connectors")
	go acceptControl(listener, task, local, e.options)

	e.setState(StateListening)
	return nil
}

// acceptControl takes the first inbound connection that completes the
// listener side of the handshake.
func acceptControl(listener net.Listener, task *handshakeTask, local models.Peer, options LinkOptions) {
	defer close(task.done)

	for {
		conn, err := listener.Accept()
		if err != nil {
			task.err = fmt.Errorf("accept control connection: %w", err)
			return
		}

		peer, err := listenerHandshake(conn, options.IOTimeout, local)
		if err != nil {
			_ = conn.Close()
			if errors.Is(err, ErrHandshake) {
				logrus.WithFields(logrus.Fields{
					"remote": conn.RemoteAddr().String(),
					"error":  err,
				}).Warn("Rejected control connection")
				continue
			}
			task.err = err
			return
		}

		task.result = Established{
			Conn: conn,
			Peer: peer,
			Role: ListenerRole(listener, options.PairingTimeout),
		}
		return
	}
}
