package transfer

import (
	"context"
	"errors"
)

var (
	// ErrCannotRead indicates the source of an outbound file could not be loaded.
	ErrCannotRead = errors.New("transfer: cannot read source")
	// ErrCannotWrite indicates a received file could not be persisted.
	ErrCannotWrite = errors.New("transfer: cannot write destination")
	// ErrNoStream indicates no data connection was available for sending.
	ErrNoStream = errors.New("transfer: no data stream available")
	// ErrBlockRefused indicates the peer asked for a block to be sent again.
	ErrBlockRefused = errors.New("transfer: block refused by peer")
	// ErrStreamIO indicates a data connection failed mid-block.
	ErrStreamIO = errors.New("transfer: data stream failed")
	// ErrRejected indicates the peer gave up on a transfer.
	ErrRejected = errors.New("transfer: rejected by peer")
	// ErrLinkDown indicates the control link of the transfer ended.
	ErrLinkDown = errors.New("transfer: link ended")
	// ErrCanceled indicates the transfer was canceled locally.
	ErrCanceled = errors.New("transfer: canceled")
	// ErrChecksumMismatch indicates the reassembled file did not match its manifest.
	ErrChecksumMismatch = errors.New("transfer: checksum mismatch")
	// ErrDuplicateTransfer indicates a transfer id that is already registered.
	ErrDuplicateTransfer = errors.New("transfer: duplicate transfer id")
	// ErrInvalidDescriptor indicates an inconsistent block descriptor.
	ErrInvalidDescriptor = errors.New("transfer: invalid block descriptor")
	// ErrMalformedBlock indicates a data frame that is not a block.
	ErrMalformedBlock = errors.New("transfer: malformed block")
	// ErrReaderFailed indicates a data connection reader stopped on an I/O error.
	ErrReaderFailed = errors.New("transfer: reader failed")
)

// Transient reports whether err is retried automatically by the sender.
func Transient(err error) bool {
	return errors.Is(err, ErrNoStream) || errors.Is(err, ErrBlockRefused) || errors.Is(err, ErrStreamIO)
}

// stopCause names why a transfer context ended. A plain cancellation is
// reported as ErrCanceled.
func stopCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, context.Canceled) {
		return ErrCanceled
	}
	return cause
}
