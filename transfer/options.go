package transfer

import (
	"context"
	"time"

	"filenet/models"
	"filenet/network"
)

const (
	DefaultRetryDelay        = 1500 * time.Millisecond
	DefaultPardonDelay       = 200 * time.Millisecond
	DefaultMaxUnknownRetries = 25
	// DefaultMaxFileSize bounds inbound transfers, which are reassembled in memory.
	DefaultMaxFileSize = 4 << 30
	// MaxBlockSize keeps an encoded block inside one frame.
	MaxBlockSize = 8 << 20
	// MaxBlockCount bounds the per-transfer bookkeeping a peer can ask for.
	MaxBlockCount = 1 << 20
)

// Options tunes both engines. Zero fields take the package defaults.
type Options struct {
	BlockSize         uint64
	IOTimeout         time.Duration
	RetryDelay        time.Duration
	PardonDelay       time.Duration
	MaxUnknownRetries int
	MaxFileSize       uint64
}

func (o Options) withDefaults() Options {
	out := o
	if out.BlockSize == 0 {
		out.BlockSize = DefaultBlockSize
	}
	if out.IOTimeout <= 0 {
		out.IOTimeout = network.DefaultIOTimeout
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = DefaultRetryDelay
	}
	if out.PardonDelay <= 0 {
		out.PardonDelay = DefaultPardonDelay
	}
	if out.MaxUnknownRetries <= 0 {
		out.MaxUnknownRetries = DefaultMaxUnknownRetries
	}
	if out.MaxFileSize == 0 {
		out.MaxFileSize = DefaultMaxFileSize
	}
	return out
}

// SendReporter observes outbound transfers. SendDone is called at most once
// per id and only on success; terminal failures arrive through SendFailed
// with an error for which Transient is false.
type SendReporter interface {
	SendProgress(id uint64, done, total uint64)
	SendFailed(id uint64, err error)
	SendDone(id uint64)
}

// ReceiveReporter observes inbound transfers. Connection level failures that
// belong to no transfer are reported with id 0.
type ReceiveReporter interface {
	ReceiveProgress(id uint64, done, total uint64)
	ReceiveFailed(id uint64, err error)
	ReceiveDone(id uint64, manifest models.Manifest, location string)
}

// Control is the sender's handle on the control link.
type Control interface {
	RequestStream()
	Announce(manifest models.Manifest, blocks models.BlockDescriptor)
}

// Sink persists a reassembled file and returns where it was stored.
type Sink interface {
	Save(manifest models.Manifest, data []byte) (string, error)
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
