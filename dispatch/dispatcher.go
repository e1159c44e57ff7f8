package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"filenet/models"
	"filenet/network"
	"filenet/storage"
	"filenet/transfer"
)

const (
	// DefaultInitialStreams is how many data connections a new link asks for up front.
	DefaultInitialStreams = 2
	// DefaultStepInterval paces the endpoint state machines.
	DefaultStepInterval = 100 * time.Millisecond
)

// ErrNotLinked indicates a command that needs a link arrived while there was none.
var ErrNotLinked = errors.New("dispatch: not linked to a peer")

// Notifier is the user-facing surface. Every outcome the user should see
// arrives here as a short line of text or a progress update.
type Notifier interface {
	Info(text string)
	Progress(direction network.Direction, id uint64, name string, done, total uint64)
	SetVisible(visible bool)
}

// Journal records transfers and links. Implementations must not block for long.
type Journal interface {
	TransferStarted(direction string, runID, wireID uint64, name string, size int64, blocks uint64)
	TransferProgress(runID, done uint64)
	TransferFinished(runID uint64, status, detail, location string)
	PeerLinked(address, name string)
	LinkEvent(eventType, peer, severity string, details map[string]any)
}

// Files resolves outbound manifests to bytes and stores inbound files.
type Files interface {
	transfer.Sink
	Resolve(manifest models.Manifest) ([]byte, error)
}

// Options configures the dispatcher and everything it owns.
type Options struct {
	Link           network.LinkOptions
	Transfer       transfer.Options
	InitialStreams int
	StepInterval   time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.InitialStreams <= 0 {
		out.InitialStreams = DefaultInitialStreams
	}
	if out.StepInterval <= 0 {
		out.StepInterval = DefaultStepInterval
	}
	return out
}

type run struct {
	direction network.Direction
	name      string
	announced bool
	// percent is the progress last written to the journal.
	percent uint64
}

// Dispatcher owns the link, the engines and the endpoints, and applies
// commands from its mailbox one at a time on a single goroutine.
type Dispatcher struct {
	mailbox  *mailbox
	options  Options
	notifier Notifier
	journal  Journal
	files    Files

	ids       *transfer.IDAllocator
	sender    *transfer.Sender
	receiver  *transfer.Receiver
	endpoints *network.EndpointSet

	// Everything below is touched only by the Run goroutine.
	ctx        context.Context
	link       *network.Link
	linkSource *network.Endpoint
	linkPeer   string
	linkCancel context.CancelFunc
	generation uint64
	runs       map[uint64]*run
	visible    bool
	announced  map[*network.Endpoint]bool
	linkWG     sync.WaitGroup
}

// New wires a dispatcher. journal may be nil.
func New(notifier Notifier, journal Journal, files Files, options Options) *Dispatcher {
	if journal == nil {
		journal = nopJournal{}
	}

	d := &Dispatcher{
		mailbox:   newMailbox(),
		options:   options.withDefaults(),
		notifier:  notifier,
		journal:   journal,
		files:     files,
		ids:       &transfer.IDAllocator{},
		endpoints: &network.EndpointSet{},
		runs:      make(map[uint64]*run),
		announced: make(map[*network.Endpoint]bool),
		visible:   true,
	}
	d.sender = transfer.NewSender(d.ids, d, d, d.options.Transfer)
	d.receiver = transfer.NewReceiver(d.ids, d, files, d.options.Transfer)
	return d
}

// Post queues a command. It never blocks.
func (d *Dispatcher) Post(cmd Command) {
	d.mailbox.post(cmd)
}

// Endpoints exposes the configured endpoint records.
func (d *Dispatcher) Endpoints() *network.EndpointSet {
	return d.endpoints
}

// Pending returns how many transfers have not ended. The answer reflects
// every command posted before the call.
func (d *Dispatcher) Pending(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	d.Post(pendingRuns{reply: reply})
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Linked reports whether a link is up, as of every command posted before the call.
func (d *Dispatcher) Linked(ctx context.Context) (bool, error) {
	reply := make(chan bool, 1)
	d.Post(linkQuery{reply: reply})
	select {
	case linked := <-reply:
		return linked, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Run applies commands until ctx is canceled, then tears everything down.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.ctx = ctx
	defer d.shutdown()

	ticker := time.NewTicker(d.options.StepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.mailbox.notify:
			for _, cmd := range d.mailbox.drain() {
				d.handle(cmd)
			}
		case <-ticker.C:
			for _, established := range d.endpoints.Step(ctx) {
				d.acceptLink(*established)
			}
			d.announceListeners()
		}
	}
}

func (d *Dispatcher) handle(cmd Command) {
	switch c := cmd.(type) {
	case Listen:
		d.addEndpoint(network.KindListen, c.Address)
	case Connect:
		d.addEndpoint(network.KindConnect, c.Address)
	case AcceptLink:
		d.acceptLink(c.Established)
	case AddSenderStream:
		d.sender.AddStream(c.Conn)
		logrus.WithFields(logrus.Fields{
			"remote":  c.Conn.RemoteAddr().String(),
			"streams": d.sender.Streams(),
		}).Debug("Sender stream added")
	case AddReceiverStream:
		d.receiver.Attach(d.ctx, c.Conn)
		logrus.WithField("remote", c.Conn.RemoteAddr().String()).Debug("Receiver stream added")
	case SendFiles:
		d.sendFiles(c.Manifests)
	case AnnounceFile:
		d.announce(c.Manifest, c.Blocks)
	case SendProgress:
		d.progress(network.DirectionSend, c.ID, c.Done, c.Total)
	case SendFailed:
		d.sendFailed(c.ID, c.Err)
	case SendDone:
		d.finish(c.ID, storage.StatusComplete, "", "")
	case ReceiveFile:
		d.receiveFile(c.Manifest, c.Blocks)
	case ReceiveProgress:
		d.progress(network.DirectionReceive, c.ID, c.Done, c.Total)
	case ReceiveFailed:
		d.receiveFailed(c.ID, c.Err)
	case ReceiveDone:
		d.finish(c.ID, storage.StatusComplete, "", c.Location)
	case LinkStopped:
		d.linkStopped(c.Generation, c.Err)
	case RequestStream:
		if d.link != nil {
			d.link.RequestStream()
		}
	case Visibility:
		d.visible = c.Visible
		d.notifier.SetVisible(c.Visible)
	case CancelTransfer:
		d.cancel(c.ID)
	case pendingRuns:
		c.reply <- len(d.runs)
	case linkQuery:
		c.reply <- d.link != nil
	default:
		logrus.WithField("command", fmt.Sprintf("%T", cmd)).Warn("Unhandled dispatcher command")
	}
}

func (d *Dispatcher) addEndpoint(kind network.EndpointKind, address string) {
	endpoint, err := network.ParseEndpoint(kind, address, d.options.Link)
	if err != nil {
		d.notifier.Info(fmt.Sprintf("Cannot use %s: %s", address, Describe(err)))
		return
	}
	d.endpoints.Add(endpoint)
	endpoint.Start()

	logrus.WithFields(logrus.Fields{
		"endpoint": endpoint.String(),
		"kind":     kind.String(),
	}).Info("Endpoint added")
}

// announceListeners tells the user once about every listener that bound, so
// an automatically picked port becomes known.
func (d *Dispatcher) announceListeners() {
	for _, endpoint := range d.endpoints.List() {
		if endpoint.Kind() != network.KindListen {
			continue
		}
		switch endpoint.State() {
		case network.StateListening, network.StateAccepted:
			if !d.announced[endpoint] {
				d.announced[endpoint] = true
				d.notifier.Info(fmt.Sprintf("Listening on %s", endpoint))
			}
		case network.StateReady, network.StateFailed, network.StateToDelete:
			delete(d.announced, endpoint)
		}
	}
}

func (d *Dispatcher) acceptLink(established network.Established) {
	address := remoteHost(established.Conn)
	if d.link != nil {
		logrus.WithField("remote", address).Warn("Already linked, dropping control connection")
		_ = established.Conn.Close()
		d.notifier.Info(fmt.Sprintf("Already linked to %s, ignoring %s", d.linkPeer, address))
		return
	}

	d.generation++
	observer := &linkObserver{mailbox: d.mailbox, generation: d.generation}
	link := network.NewLink(established.Conn, established.Role, established.Peer, observer, d.options.Link)
	linkCtx, cancel := context.WithCancel(d.ctx)

	d.link = link
	d.linkSource = established.Source
	d.linkPeer = address
	d.linkCancel = cancel

	d.linkWG.Add(1)
	go func(generation uint64) {
		defer d.linkWG.Done()
		err := link.Run(linkCtx)
		logrus.WithFields(logrus.Fields{
			"peer":       address,
			"generation": generation,
			"error":      err,
		}).Debug("Link loop returned")
	}(d.generation)

	d.journal.PeerLinked(address, established.Peer.Name)
	d.journal.LinkEvent("link_established", address, storage.SeverityInfo, map[string]any{
		"role": established.Role.String(),
		"name": established.Peer.Name,
	})
	d.notifier.Info(fmt.Sprintf("Linked with %s (%s)", displayName(established.Peer.Name), address))

	for i := 0; i < d.options.InitialStreams; i++ {
		link.RequestStream()
	}
}

func (d *Dispatcher) linkStopped(generation uint64, err error) {
	if generation != d.generation || d.link == nil {
		return
	}

	severity := storage.SeverityInfo
	if errors.Is(err, network.ErrLinkLost) {
		severity = storage.SeverityWarning
	}
	d.journal.LinkEvent("link_stopped", d.linkPeer, severity, map[string]any{"error": errorText(err)})
	d.notifier.Info(fmt.Sprintf("Link with %s ended: %s", d.linkPeer, Describe(err)))

	d.linkCancel()

	// Transfer ids and data connections belong to the link that ended.
	cause := transfer.ErrLinkDown
	if err != nil {
		cause = fmt.Errorf("%w: %w", transfer.ErrLinkDown, err)
	}
	d.sender.Abort(cause)
	d.receiver.Reset(cause)

	if d.linkSource != nil && d.linkSource.Rearm() {
		logrus.WithField("endpoint", d.linkSource.String()).Info("Listener waits for the next peer")
	}

	d.link = nil
	d.linkSource = nil
	d.linkCancel = nil
	d.linkPeer = ""
}

func (d *Dispatcher) sendFiles(manifests []models.Manifest) {
	if d.link == nil {
		d.notifier.Info(fmt.Sprintf("Cannot send %d file(s): %s", len(manifests), Describe(ErrNotLinked)))
		return
	}

	for _, manifest := range manifests {
		// A failed load has already posted SendFailed for id by the time
		// Send returns; the run entry must exist when it is applied.
		id, _ := d.sender.Send(d.ctx, manifest, func() ([]byte, error) {
			return d.files.Resolve(manifest)
		})
		if _, ok := d.runs[id]; !ok {
			d.runs[id] = &run{direction: network.DirectionSend, name: manifest.Name}
		}
	}
}

func (d *Dispatcher) announce(manifest models.Manifest, blocks models.BlockDescriptor) {
	id := blocks.TransferID
	entry, ok := d.runs[id]
	if !ok {
		entry = &run{direction: network.DirectionSend, name: manifest.Name}
		d.runs[id] = entry
	}

	if d.link == nil || !d.link.Forward(network.PostFile(manifest, blocks)) {
		logrus.WithField("transfer_id", id).Warn("Could not announce transfer")
		d.sender.Cancel(id)
		return
	}

	entry.announced = true
	d.journal.TransferStarted(network.DirectionSend.String(), id, id, manifest.Name, int64(blocks.Length), blocks.BlockCount)
	d.notifier.Info(fmt.Sprintf("Sending %s (%d blocks)", manifest.Name, blocks.BlockCount))
}

func (d *Dispatcher) receiveFile(manifest models.Manifest, blocks models.BlockDescriptor) {
	runID, err := d.receiver.Receive(d.ctx, manifest, blocks)
	if err != nil {
		d.notifier.Info(fmt.Sprintf("Refused %s: %s", manifest.Name, Describe(err)))
		return
	}

	d.runs[runID] = &run{direction: network.DirectionReceive, name: manifest.Name, announced: true}
	d.journal.TransferStarted(network.DirectionReceive.String(), runID, blocks.TransferID, manifest.Name, int64(blocks.Length), blocks.BlockCount)
	d.notifier.Info(fmt.Sprintf("Receiving %s (%d blocks)", manifest.Name, blocks.BlockCount))
}

func (d *Dispatcher) progress(direction network.Direction, id, done, total uint64) {
	entry, ok := d.runs[id]
	if !ok {
		return
	}
	d.notifier.Progress(direction, id, entry.name, done, total)
	if !entry.announced || total == 0 {
		return
	}
	// Journal at most once per whole percent.
	percent := done * 100 / total
	if percent > entry.percent || done == total {
		entry.percent = percent
		d.journal.TransferProgress(id, done)
	}
}

func (d *Dispatcher) sendFailed(id uint64, err error) {
	if transfer.Transient(err) {
		logrus.WithFields(logrus.Fields{
			"transfer_id": id,
			"error":       err,
		}).Debug("Transient send failure")
		return
	}
	d.fail(id, err)
}

func (d *Dispatcher) receiveFailed(id uint64, err error) {
	if id == 0 {
		logrus.WithField("error", err).Warn("Data stream failure")
		d.notifier.Info(fmt.Sprintf("Data stream problem: %s", Describe(err)))
		return
	}
	d.fail(id, err)
}

func (d *Dispatcher) fail(id uint64, err error) {
	status := storage.StatusFailed
	if errors.Is(err, transfer.ErrCanceled) {
		status = storage.StatusCanceled
	}

	name := "transfer"
	if entry, ok := d.runs[id]; ok {
		name = entry.name
	}
	logrus.WithFields(logrus.Fields{
		"run_id": id,
		"name":   name,
		"error":  err,
	}).Warn("Transfer failed")

	d.finish(id, status, Describe(err), "")
	d.notifier.Info(fmt.Sprintf("%s: %s", name, Describe(err)))
}

func (d *Dispatcher) finish(id uint64, status, detail, location string) {
	entry, ok := d.runs[id]
	if !ok {
		return
	}
	delete(d.runs, id)

	if entry.announced {
		d.journal.TransferFinished(id, status, detail, location)
	}
	if status != storage.StatusComplete {
		return
	}
	if entry.direction == network.DirectionSend {
		d.notifier.Info(fmt.Sprintf("Sent %s", entry.name))
		return
	}
	d.notifier.Info(fmt.Sprintf("Received %s -> %s", entry.name, location))
}

func (d *Dispatcher) cancel(id uint64) {
	entry, ok := d.runs[id]
	if !ok {
		d.notifier.Info(fmt.Sprintf("No transfer with id %d", id))
		return
	}
	if entry.direction == network.DirectionSend {
		d.sender.Cancel(id)
		return
	}
	d.receiver.Cancel(id)
}

func (d *Dispatcher) shutdown() {
	if d.linkCancel != nil {
		d.linkCancel()
	}
	d.sender.Close()
	d.receiver.Close()
	for _, endpoint := range d.endpoints.List() {
		endpoint.Delete()
	}
	d.endpoints.Sweep()
	d.linkWG.Wait()
}

// The engines and the link call these from their own goroutines; each one
// only posts a command.

func (d *Dispatcher) SendProgress(id, done, total uint64) {
	d.Post(SendProgress{ID: id, Done: done, Total: total})
}

func (d *Dispatcher) SendFailed(id uint64, err error) {
	d.Post(SendFailed{ID: id, Err: err})
}

func (d *Dispatcher) SendDone(id uint64) {
	d.Post(SendDone{ID: id})
}

func (d *Dispatcher) ReceiveProgress(id, done, total uint64) {
	d.Post(ReceiveProgress{ID: id, Done: done, Total: total})
}

func (d *Dispatcher) ReceiveFailed(id uint64, err error) {
	d.Post(ReceiveFailed{ID: id, Err: err})
}

func (d *Dispatcher) ReceiveDone(id uint64, manifest models.Manifest, location string) {
	d.Post(ReceiveDone{ID: id, Manifest: manifest, Location: location})
}

func (d *Dispatcher) RequestStream() {
	d.Post(RequestStream{})
}

func (d *Dispatcher) Announce(manifest models.Manifest, blocks models.BlockDescriptor) {
	d.Post(AnnounceFile{Manifest: manifest, Blocks: blocks})
}

type linkObserver struct {
	mailbox    *mailbox
	generation uint64
}

func (o *linkObserver) StreamAdded(conn net.Conn, direction network.Direction) {
	if direction == network.DirectionSend {
		o.mailbox.post(AddSenderStream{Conn: conn})
		return
	}
	o.mailbox.post(AddReceiverStream{Conn: conn})
}

func (o *linkObserver) InboundTransfer(manifest models.Manifest, blocks models.BlockDescriptor) {
	o.mailbox.post(ReceiveFile{Manifest: manifest, Blocks: blocks})
}

func (o *linkObserver) LinkStopped(err error) {
	o.mailbox.post(LinkStopped{Generation: o.generation, Err: err})
}

type nopJournal struct{}

func (nopJournal) TransferStarted(string, uint64, uint64, string, int64, uint64) {}
func (nopJournal) TransferProgress(uint64, uint64)                               {}
func (nopJournal) TransferFinished(uint64, string, string, string)               {}
func (nopJournal) PeerLinked(string, string)                                     {}
func (nopJournal) LinkEvent(string, string, string, map[string]any)              {}

func remoteHost(conn net.Conn) string {
	address := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}
	return host
}

func displayName(name string) string {
	if name == "" {
		return "unnamed peer"
	}
	return name
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
