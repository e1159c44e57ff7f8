package transfer

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"filenet/models"
	"filenet/network"
)

// Sender pushes outbound files over the pooled data connections, one worker
// per transfer.
type Sender struct {
	pool     *StreamPool
	ids      *IDAllocator
	reporter SendReporter
	control  Control
	options  Options

	mu      sync.Mutex
	cancels map[uint64]context.CancelCauseFunc
	wg      sync.WaitGroup
}

// NewSender creates a sender drawing ids from ids.
func NewSender(ids *IDAllocator, reporter SendReporter, control Control, options Options) *Sender {
	return &Sender{
		pool:     &StreamPool{},
		ids:      ids,
		reporter: reporter,
		control:  control,
		options:  options.withDefaults(),
		cancels:  make(map[uint64]context.CancelCauseFunc),
	}
}

// AddStream makes a paired data connection available to the workers.
func (s *Sender) AddStream(conn net.Conn) {
	s.pool.Add(conn)
}

// Streams is the number of idle data connections.
func (s *Sender) Streams() int {
	return s.pool.Len()
}

// Send announces manifest to the peer and starts moving its bytes. load is
// called once, synchronously; its failure is reported and returned and no
// worker is started.
func (s *Sender) Send(ctx context.Context, manifest models.Manifest, load func() ([]byte, error)) (uint64, error) {
	id := s.ids.Next()

	data, err := load()
	if err != nil {
		err = fmt.Errorf("%w %q: %v", ErrCannotRead, manifest.Name, err)
		s.reporter.SendFailed(id, err)
		return id, err
	}

	set := Split(id, data, s.options.BlockSize)
	workerCtx, cancel := context.WithCancelCause(ctx)
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"transfer_id": id,
		"name":        manifest.Name,
		"size":        len(data),
		"blocks":      set.Descriptor().BlockCount,
	}).Info("Sending file")
	s.control.Announce(manifest.Remote(), set.Descriptor())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.forget(id)
		s.run(workerCtx, set)
	}()
	return id, nil
}

// Cancel stops the worker of one transfer.
func (s *Sender) Cancel(id uint64) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel(ErrCanceled)
	}
	return ok
}

// Abort ends every transfer with cause and closes the idle data
// connections. Connections a worker holds are closed when it stops.
func (s *Sender) Abort(cause error) {
	s.cancelAll(cause)
	s.pool.Close()
}

// Close cancels every transfer, waits for the workers and closes the pool.
func (s *Sender) Close() {
	s.cancelAll(ErrCanceled)
	s.wg.Wait()
	s.pool.Close()
}

func (s *Sender) cancelAll(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.cancels {
		cancel(cause)
	}
}

func (s *Sender) forget(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[id]; ok {
		cancel(nil)
		delete(s.cancels, id)
	}
}

func (s *Sender) run(ctx context.Context, set *BlockSet) {
	desc := set.Descriptor()
	id := desc.TransferID
	logger := logrus.WithField("transfer_id", id)

	for !set.Finished() {
		if ctx.Err() != nil {
			s.reporter.SendFailed(id, stopCause(ctx))
			return
		}

		index, _ := set.Next()
		conn := s.pool.Checkout()
		if conn == nil {
			sleepCtx(ctx, s.options.RetryDelay)
			s.reporter.SendFailed(id, ErrNoStream)
			s.control.RequestStream()
			continue
		}

		block, _ := set.Get(index)
		reply, err := s.push(conn, block)
		if err != nil {
			s.pool.Drop(conn)
			logger.WithFields(logrus.Fields{"index": index, "error": err}).Warn("Data stream dropped")
			s.reporter.SendFailed(id, fmt.Errorf("%w: %v", ErrStreamIO, err))
			continue
		}
		if ctx.Err() != nil {
			s.pool.Drop(conn)
			continue
		}
		s.pool.Return(conn)

		switch reply.Type {
		case network.TypeAccept:
			set.Done(index)
			s.reporter.SendProgress(id, set.Completed(), desc.BlockCount)
		case network.TypeShut:
			logger.WithField("index", index).Warn("Peer rejected transfer")
			s.reporter.SendFailed(id, ErrRejected)
			return
		default:
			s.reporter.SendFailed(id, fmt.Errorf("%w: block %d got %s", ErrBlockRefused, index, reply))
			sleepCtx(ctx, s.options.PardonDelay)
		}
	}

	logger.Info("File sent")
	s.reporter.SendDone(id)
}

func (s *Sender) push(conn net.Conn, block Block) (network.Signal, error) {
	payload, err := EncodeBlock(block)
	if err != nil {
		return network.Signal{}, err
	}
	if err := network.WriteFrameWithTimeout(conn, s.options.IOTimeout, payload); err != nil {
		return network.Signal{}, err
	}
	return network.ReadSignal(conn, s.options.IOTimeout)
}
