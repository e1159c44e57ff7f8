package dispatch

import (
	"net"
	"sync"

	"filenet/models"
	"filenet/network"
)

// Command is one message in the dispatcher mailbox. The set is closed: only
// the types in this file implement it.
type Command interface {
	command()
}

// Listen adds a listening endpoint and starts it.
type Listen struct {
	Address string
}

// Connect adds a connecting endpoint and starts it.
type Connect struct {
	Address string
}

// AcceptLink hands a handshaken control connection to the dispatcher.
type AcceptLink struct {
	Established network.Established
}

// AddSenderStream gives a paired data connection to the sender engine.
type AddSenderStream struct {
	Conn net.Conn
}

// AddReceiverStream gives a paired data connection to the receiver engine.
type AddReceiverStream struct {
	Conn net.Conn
}

// SendFiles starts one outbound transfer per manifest.
type SendFiles struct {
	Manifests []models.Manifest
}

// SendProgress reports done blocks of an outbound transfer.
type SendProgress struct {
	ID    uint64
	Done  uint64
	Total uint64
}

// SendFailed reports a failure of an outbound transfer.
type SendFailed struct {
	ID  uint64
	Err error
}

// SendDone reports an outbound transfer that every block of was accepted.
type SendDone struct {
	ID uint64
}

// ReceiveFile registers a transfer the peer announced.
type ReceiveFile struct {
	Manifest models.Manifest
	Blocks   models.BlockDescriptor
}

// ReceiveProgress reports done blocks of an inbound transfer.
type ReceiveProgress struct {
	ID    uint64
	Done  uint64
	Total uint64
}

// ReceiveFailed reports a failure of an inbound transfer, or of a data
// connection when ID is 0.
type ReceiveFailed struct {
	ID  uint64
	Err error
}

// ReceiveDone reports a file that was reassembled and stored.
type ReceiveDone struct {
	ID       uint64
	Manifest models.Manifest
	Location string
}

// LinkStopped reports that a link ended. Generation tells stale reports from
// an earlier link apart.
type LinkStopped struct {
	Generation uint64
	Err        error
}

// RequestStream asks the current link for one more data connection.
type RequestStream struct{}

// AnnounceFile forwards a post_file signal for an outbound transfer.
type AnnounceFile struct {
	Manifest models.Manifest
	Blocks   models.BlockDescriptor
}

// Visibility shows or hides the user-facing surface.
type Visibility struct {
	Visible bool
}

// CancelTransfer abandons a transfer by its run id.
type CancelTransfer struct {
	ID uint64
}

// pendingRuns asks how many transfers have not ended yet.
type pendingRuns struct {
	reply chan int
}

// linkQuery asks whether a link is up.
type linkQuery struct {
	reply chan bool
}

func (Listen) command()            {}
func (Connect) command()           {}
func (AcceptLink) command()        {}
func (AddSenderStream) command()   {}
func (AddReceiverStream) command() {}
func (SendFiles) command()         {}
func (SendProgress) command()      {}
func (SendFailed) command()        {}
func (SendDone) command()          {}
func (ReceiveFile) command()       {}
func (ReceiveProgress) command()   {}
func (ReceiveFailed) command()     {}
func (ReceiveDone) command()       {}
func (LinkStopped) command()       {}
func (RequestStream) command()     {}
func (AnnounceFile) command()      {}
func (Visibility) command()        {}
func (CancelTransfer) command()    {}
func (pendingRuns) command()       {}
func (linkQuery) command()         {}

// mailbox is an unbounded FIFO. Posting never blocks, so engine callbacks
// that run on the dispatcher goroutine itself cannot deadlock it.
type mailbox struct {
	mu     sync.Mutex
	items  []Command
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(cmd Command) {
	m.mu.Lock()
	m.items = append(m.items, cmd)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.items
	m.items = nil
	return out
}
