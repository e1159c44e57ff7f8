package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"filenet/models"
)

var (
	// ErrPeerShut indicates the peer announced it is closing.
	ErrPeerShut = errors.New("network: peer shut the link")
	// ErrLinkLost indicates the control connection failed past the recovery cap.
	ErrLinkLost = errors.New("network: link lost")
)

// Direction tells which engine a freshly paired data connection belongs to.
type Direction int

const (
	// DirectionSend is given to the side that asked for the stream.
	DirectionSend Direction = iota
	// DirectionReceive is given to the side that honoured the request.
	DirectionReceive
)

func (d Direction) String() string {
	if d == DirectionSend {
		return "send"
	}
	return "receive"
}

// LinkEvents receives everything a link observes that matters outside it.
type LinkEvents interface {
	StreamAdded(conn net.Conn, direction Direction)
	InboundTransfer(manifest models.Manifest, blocks models.BlockDescriptor)
	LinkStopped(err error)
}

// phase is what the link is currently negotiating.
type phase int

const (
	phaseIdle phase = iota
	phaseRequested
	phaseAwaitingAck
	phasePeerPairing
	phaseForwarding
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseRequested:
		return "requested"
	case phaseAwaitingAck:
		return "awaiting_ack"
	case phasePeerPairing:
		return "peer_pairing"
	case phaseForwarding:
		return "forwarding"
	default:
		return "unknown"
	}
}

type linkCommand struct {
	addStream bool
	signal    Signal
}

// Link runs the token-passing control loop of one established control
// connection. Every received signal except Shut and ErrorInto is answered by
// exactly one written signal, so at most one message is in flight.
type Link struct {
	conn    net.Conn
	role    Role
	peer    models.Peer
	events  LinkEvents
	options LinkOptions

	commands chan linkCommand
	backlog  []linkCommand

	phase    phase
	queued   linkCommand
	failures int
	last     *Signal

	stopOnce sync.Once
}

// NewLink wraps an already handshaken control connection.
func NewLink(conn net.Conn, role Role, peer models.Peer, events LinkEvents, options LinkOptions) *Link {
	return &Link{
		conn:     conn,
		role:     role,
		peer:     peer,
		events:   events,
		options:  options.withDefaults(),
		commands: make(chan linkCommand, 64),
	}
}

// Peer returns the identity the peer presented during the handshake.
func (l *Link) Peer() models.Peer {
	return l.peer
}

// RequestStream asks the link to pair one more data connection. The request
// is picked up the next time the link is idle.
func (l *Link) RequestStream() bool {
	return l.enqueue(linkCommand{addStream: true})
}

// Forward queues a signal to be sent on the control connection.
func (l *Link) Forward(signal Signal) bool {
	return l.enqueue(linkCommand{signal: signal})
}

func (l *Link) enqueue(cmd linkCommand) bool {
	select {
	case l.commands <- cmd:
		return true
	default:
		logrus.WithField("peer", l.peer.Name).Warn("Link command queue full, dropping command")
		return false
	}
}

// Run drives the link until ctx is canceled or the connection is lost.
func (l *Link) Run(ctx context.Context) error {
	defer func() {
		_ = l.conn.Close()
	}()

	logger := logrus.WithFields(logrus.Fields{
		"peer": l.peer.Name,
		"role": l.role.String(),
	})
	logger.Info("Link started")

	if l.role.Leads() {
		l.write(ctx, Accept(l.options.Local.IPAddr, l.options.Local.Name))
	}

	for {
		if err := ctx.Err(); err != nil {
			_ = WriteSignal(l.conn, l.options.IOTimeout, Shut())
			logger.Info("Link stopped")
			return err
		}

		if l.phase == phaseIdle {
			l.takeCommand()
		}

		signal, err := ReadSignal(l.conn, l.options.IOTimeout)
		if err != nil {
			if lost := l.recover(ctx, err); lost {
				return ErrLinkLost
			}
			continue
		}
		l.failures = 0
		l.handle(ctx, signal)
	}
}

func (l *Link) takeCommand() {
	if len(l.backlog) == 0 {
		select {
		case cmd := <-l.commands:
			l.backlog = append(l.backlog, cmd)
		default:
			return
		}
	}

	cmd := l.backlog[0]
	l.backlog = l.backlog[1:]
	l.queued = cmd
	if cmd.addStream {
		l.setPhase(phaseRequested)
	} else {
		l.setPhase(phaseForwarding)
	}
}

// requeue puts the pending local command back in front of the backlog.
func (l *Link) requeue() {
	if l.phase != phaseRequested && l.phase != phaseForwarding {
		return
	}
	l.backlog = append([]linkCommand{l.queued}, l.backlog...)
	l.queued = linkCommand{}
}

func (l *Link) recover(ctx context.Context, readErr error) bool {
	l.failures++
	logrus.WithFields(logrus.Fields{
		"peer":     l.peer.Name,
		"failures": l.failures,
		"error":    readErr,
	}).Warn("Control read failed")

	if l.failures > l.options.MaxRecoveryFailures {
		l.stop(ErrLinkLost)
		return true
	}

	if err := l.writeRaw(Pardon()); err != nil {
		sleepCtx(ctx, l.options.RecoveryDelay)
	}
	return false
}

func (l *Link) handle(ctx context.Context, signal Signal) {
	switch signal.Type {
	case TypePostFile:
		l.events.InboundTransfer(*signal.Manifest, *signal.Blocks)
		l.reply(ctx)
		return
	case TypePardon:
		sleepCtx(ctx, l.options.PardonDelay)
		if l.last != nil {
			l.write(ctx, *l.last)
		} else {
			l.reply(ctx)
		}
		return
	case TypeShut:
		logrus.WithField("peer", l.peer.Name).Info("Peer shut the link")
		l.stop(ErrPeerShut)
		return
	case TypeDecodeFail:
		logrus.WithField("peer", l.peer.Name).Warn("Undecodable control signal")
		return
	}

	switch l.phase {
	case phaseIdle:
		l.stepIdle(ctx, signal)
	case phaseRequested:
		l.stepRequested(ctx, signal)
	case phaseAwaitingAck:
		l.stepAwaitingAck(ctx, signal)
	case phasePeerPairing:
		l.stepPeerPairing(ctx, signal)
	case phaseForwarding:
		l.stepForwarding(ctx, signal)
	}
}

func (l *Link) stepIdle(ctx context.Context, signal Signal) {
	switch signal.Type {
	case TypeAccept:
		sleepCtx(ctx, l.options.KeepAliveDelay)
		l.reply(ctx)
	case TypeAddStream:
		l.honourPairing(ctx)
	}
}

func (l *Link) stepRequested(ctx context.Context, signal Signal) {
	switch signal.Type {
	case TypeAccept:
		l.write(ctx, AddStream())
		l.setPhase(phaseAwaitingAck)
	case TypeAddStream:
		l.requeue()
		l.honourPairing(ctx)
	}
}

func (l *Link) stepAwaitingAck(ctx context.Context, signal Signal) {
	switch signal.Type {
	case TypeAccept:
		l.reply(ctx)
		l.setPhase(phaseIdle)
		l.openStream(ctx, DirectionSend)
	case TypeAddStream:
		l.honourPairing(ctx)
	}
}

func (l *Link) stepPeerPairing(ctx context.Context, signal Signal) {
	switch signal.Type {
	case TypeAccept:
		l.openStream(ctx, DirectionReceive)
		l.setPhase(phaseIdle)
		l.reply(ctx)
	case TypeAddStream:
		l.reply(ctx)
	}
}

func (l *Link) stepForwarding(ctx context.Context, signal Signal) {
	switch signal.Type {
	case TypeAccept:
		l.write(ctx, l.queued.signal)
		l.queued = linkCommand{}
		l.setPhase(phaseIdle)
	case TypeAddStream:
		l.requeue()
		l.honourPairing(ctx)
	}
}

// honourPairing acknowledges a peer's AddStream and waits for its go-ahead.
func (l *Link) honourPairing(ctx context.Context) {
	l.reply(ctx)
	l.setPhase(phasePeerPairing)
}

func (l *Link) openStream(ctx context.Context, direction Direction) {
	conn, err := l.role.OpenStream(ctx, l.conn)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"peer":      l.peer.Name,
			"direction": direction.String(),
			"error":     err,
		}).Warn("Pairing failed")
		return
	}

	logrus.WithFields(logrus.Fields{
		"peer":      l.peer.Name,
		"direction": direction.String(),
		"remote":    conn.RemoteAddr().String(),
	}).Info("Data stream paired")
	l.events.StreamAdded(conn, direction)
}

// reply passes the token back with a plain Accept.
func (l *Link) reply(ctx context.Context) {
	l.write(ctx, Accept(l.options.Local.IPAddr, l.options.Local.Name))
}

func (l *Link) write(ctx context.Context, signal Signal) {
	if err := l.writeRaw(signal); err != nil {
		l.failures++
		logrus.WithFields(logrus.Fields{
			"peer":     l.peer.Name,
			"signal":   signal.String(),
			"failures": l.failures,
			"error":    err,
		}).Warn("Control write failed")
		sleepCtx(ctx, l.options.RecoveryDelay)
	}
}

func (l *Link) writeRaw(signal Signal) error {
	if signal.Type != TypePardon {
		sent := signal
		l.last = &sent
	}
	return WriteSignal(l.conn, l.options.IOTimeout, signal)
}

func (l *Link) setPhase(next phase) {
	if next == l.phase {
		return
	}
	logrus.WithFields(logrus.Fields{
		"peer": l.peer.Name,
		"from": l.phase.String(),
		"to":   next.String(),
	}).Debug("Link phase change")
	l.phase = next
}

func (l *Link) stop(err error) {
	l.stopOnce.Do(func() {
		l.events.LinkStopped(err)
	})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
