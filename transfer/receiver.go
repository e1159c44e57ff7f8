package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"filenet/crypto"
	"filenet/models"
	"filenet/network"
)

// Receiver reads blocks from inbound data connections and reassembles the
// transfers announced by the peer.
type Receiver struct {
	ids      *IDAllocator
	reporter ReceiveReporter
	sink     Sink
	options  Options

	mu       sync.Mutex
	registry *Registry
	conns    map[net.Conn]struct{}
	cancels  map[uint64]context.CancelCauseFunc
	wg       sync.WaitGroup
}

// NewReceiver creates a receiver that hands finished files to sink.
func NewReceiver(ids *IDAllocator, reporter ReceiveReporter, sink Sink, options Options) *Receiver {
	return &Receiver{
		registry: NewRegistry(),
		ids:      ids,
		reporter: reporter,
		sink:     sink,
		options:  options.withDefaults(),
		conns:    make(map[net.Conn]struct{}),
		cancels:  make(map[uint64]context.CancelCauseFunc),
	}
}

// Registry exposes the transfer registry of the current link.
func (r *Receiver) Registry() *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry
}

// Attach starts a reader on a paired data connection.
func (r *Receiver) Attach(ctx context.Context, conn net.Conn) {
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	registry := r.registry
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.read(ctx, conn, registry)
	}()
}

// Receive registers an announced transfer and starts assembling it. It
// returns the local run id that progress and completion are reported under.
func (r *Receiver) Receive(ctx context.Context, manifest models.Manifest, desc models.BlockDescriptor) (uint64, error) {
	if err := checkDescriptor(desc, r.options.MaxFileSize); err != nil {
		logrus.WithFields(logrus.Fields{
			"transfer_id": desc.TransferID,
			"name":        manifest.Name,
			"error":       err,
		}).Warn("Rejected inbound transfer")
		return 0, err
	}

	registry := r.Registry()
	box, err := registry.register(desc)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"transfer_id": desc.TransferID,
			"name":        manifest.Name,
			"error":       err,
		}).Warn("Rejected inbound transfer")
		return 0, err
	}

	runID := r.ids.Next()
	runCtx, cancel := context.WithCancelCause(ctx)
	r.mu.Lock()
	r.cancels[runID] = cancel
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"transfer_id": desc.TransferID,
		"run_id":      runID,
		"name":        manifest.Name,
		"blocks":      desc.BlockCount,
	}).Info("Receiving file")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.forget(runID)
		r.assemble(runCtx, registry, runID, manifest, box)
	}()
	return runID, nil
}

// Cancel abandons one inbound transfer by run id.
func (r *Receiver) Cancel(runID uint64) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if ok {
		cancel(ErrCanceled)
	}
	return ok
}

// Reset ends every transfer with cause, closes the data connections and
// starts a fresh registry. Transfer ids are only unique per link, so a new
// link must not see the ids of the previous one.
func (r *Receiver) Reset(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(cause)
	r.registry = NewRegistry()
}

// Close cancels every transfer, closes the data connections and waits.
func (r *Receiver) Close() {
	r.mu.Lock()
	r.stopLocked(ErrCanceled)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Receiver) stopLocked(cause error) {
	for _, cancel := range r.cancels {
		cancel(cause)
	}
	for conn := range r.conns {
		_ = conn.Close()
	}
}

func (r *Receiver) forget(runID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cancels[runID]; ok {
		cancel(nil)
		delete(r.cancels, runID)
	}
}

func (r *Receiver) drop(conn net.Conn) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
	_ = conn.Close()
}

func (r *Receiver) read(ctx context.Context, conn net.Conn, registry *Registry) {
	defer r.drop(conn)

	logger := logrus.WithField("remote", conn.RemoteAddr().String())
	strikes := make(map[uint64]int)

	for ctx.Err() == nil {
		payload, err := network.ReadFrameWithTimeout(conn, r.options.IOTimeout)
		if err != nil {
			if network.IsTimeout(err) {
				continue
			}
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				logger.WithField("error", err).Warn("Data stream reader stopped")
				r.reporter.ReceiveFailed(0, fmt.Errorf("%w: %v", ErrReaderFailed, err))
			}
			return
		}

		var reply network.Signal
		block, err := DecodeBlock(payload)
		if err != nil {
			logger.WithField("error", err).Warn("Malformed block")
			r.reporter.ReceiveFailed(0, err)
			reply = network.Pardon()
		} else {
			reply = r.route(ctx, registry, block, strikes)
		}

		if err := network.WriteSignal(conn, r.options.IOTimeout, reply); err != nil {
			logger.WithField("error", err).Warn("Block reply failed")
			r.reporter.ReceiveFailed(0, fmt.Errorf("%w: %v", ErrReaderFailed, err))
			return
		}
	}
}

// route decides the reply to one well-formed block.
func (r *Receiver) route(ctx context.Context, registry *Registry, block Block, strikes map[uint64]int) network.Signal {
	result, box := registry.lookup(block.FileID)
	switch result {
	case lookupActive:
		delete(strikes, block.FileID)
		if !Fits(box.desc, block) {
			return network.Pardon()
		}
		select {
		case box.blocks <- block:
		case <-box.done:
		case <-ctx.Done():
			return network.Pardon()
		}
		return network.Accept("", "")
	case lookupCompleted:
		return network.Accept("", "")
	case lookupAbandoned:
		return network.Shut()
	}

	strikes[block.FileID]++
	if strikes[block.FileID] > r.options.MaxUnknownRetries {
		delete(strikes, block.FileID)
		logrus.WithField("transfer_id", block.FileID).Warn("Blocks for a transfer that was never announced")
		return network.Shut()
	}
	sleepCtx(ctx, r.options.PardonDelay)
	return network.Pardon()
}

func (r *Receiver) assemble(ctx context.Context, registry *Registry, runID uint64, manifest models.Manifest, box *inbox) {
	wireID := box.desc.TransferID
	logger := logrus.WithFields(logrus.Fields{
		"transfer_id": wireID,
		"run_id":      runID,
	})

	set, err := FromDescriptor(box.desc)
	if err != nil {
		registry.finish(wireID, false)
		r.reporter.ReceiveFailed(runID, err)
		return
	}

	for !set.Finished() {
		select {
		case <-ctx.Done():
			registry.finish(wireID, false)
			r.reporter.ReceiveFailed(runID, stopCause(ctx))
			return
		case block := <-box.blocks:
			if set.Set(block) {
				r.reporter.ReceiveProgress(runID, set.Completed(), box.desc.BlockCount)
			}
		}
	}

	data := set.Bytes()
	if manifest.Checksum != "" && crypto.ChecksumHex(data) != manifest.Checksum {
		logger.Warn("Reassembled file failed checksum")
		registry.finish(wireID, false)
		r.reporter.ReceiveFailed(runID, fmt.Errorf("%w: %s", ErrChecksumMismatch, manifest.Name))
		return
	}

	location, err := r.sink.Save(manifest, data)
	if err != nil {
		logger.WithField("error", err).Warn("Could not save received file")
		registry.finish(wireID, false)
		r.reporter.ReceiveFailed(runID, fmt.Errorf("%w: %v", ErrCannotWrite, err))
		return
	}

	registry.finish(wireID, true)
	logger.WithField("location", location).Info("File received")
	r.reporter.ReceiveDone(runID, manifest, location)
}
