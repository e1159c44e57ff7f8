package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filenet/models"
	"filenet/network"
)

// fakePeer answers every block on conn with reply(block) and records the indices it saw.
type fakePeer struct {
	mu      sync.Mutex
	indices []uint64
}

func (p *fakePeer) serve(conn net.Conn, reply func(Block, int) network.Signal) {
	attempt := 0
	for {
		payload, err := network.ReadFrame(conn)
		if err != nil {
			return
		}
		block, err := DecodeBlock(payload)
		if err != nil {
			return
		}
		p.mu.Lock()
		p.indices = append(p.indices, block.Index)
		p.mu.Unlock()

		attempt++
		if err := network.WriteSignal(conn, time.Second, reply(block, attempt)); err != nil {
			return
		}
	}
}

func (p *fakePeer) seen() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.indices...)
}

func acceptAll(Block, int) network.Signal { return network.Accept("", "") }

func TestSenderWithoutStreamsRetriesSameBlock(t *testing.T) {
	reporter := &sendRecorder{}
	control := &fakeControl{}
	sender := NewSender(&IDAllocator{}, reporter, control, fastOptions())
	defer sender.Close()

	data := randomBytes(t, 150*1024)
	_, err := sender.Send(context.Background(), models.Manifest{Name: "a.bin", Size: int64(len(data))}, func() ([]byte, error) {
		return data, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return reporter.failedWith(ErrNoStream) && control.requestCount() > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, reporter.progressCount())

	local, remote := pipeConns(t)
	peer := &fakePeer{}
	go peer.serve(remote, acceptAll)
	sender.AddStream(local)

	require.Eventually(t, func() bool { return reporter.doneCount() == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{0, 1, 2}, peer.seen())
	assert.Equal(t, 3, reporter.progressCount())
	require.Len(t, control.announced, 1)
	assert.Equal(t, uint64(3), control.announced[0].blocks.BlockCount)
}

func TestSenderResendsRefusedBlock(t *testing.T) {
	reporter := &sendRecorder{}
	sender := NewSender(&IDAllocator{}, reporter, &fakeControl{}, fastOptions())
	defer sender.Close()

	local, remote := pipeConns(t)
	peer := &fakePeer{}
	go peer.serve(remote, func(_ Block, attempt int) network.Signal {
		if attempt == 1 {
			return network.Pardon()
		}
		return network.Accept("", "")
	})
	sender.AddStream(local)

	_, err := sender.Send(context.Background(), models.Manifest{Name: "small"}, func() ([]byte, error) {
		return []byte("hello"), nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return reporter.doneCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{0, 0}, peer.seen())
	assert.True(t, reporter.failedWith(ErrBlockRefused))
}

func TestSenderStopsWhenPeerShuts(t *testing.T) {
	reporter := &sendRecorder{}
	sender := NewSender(&IDAllocator{}, reporter, &fakeControl{}, fastOptions())
	defer sender.Close()

	local, remote := pipeConns(t)
	go (&fakePeer{}).serve(remote, func(Block, int) network.Signal { return network.Shut() })
	sender.AddStream(local)

	_, err := sender.Send(context.Background(), models.Manifest{Name: "refused"}, func() ([]byte, error) {
		return []byte("payload"), nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return reporter.failedWith(ErrRejected) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, reporter.doneCount())
	assert.False(t, Transient(ErrRejected))
}

func TestSenderReportsUnreadableSource(t *testing.T) {
	reporter := &sendRecorder{}
	control := &fakeControl{}
	sender := NewSender(&IDAllocator{}, reporter, control, fastOptions())
	defer sender.Close()

	id, err := sender.Send(context.Background(), models.Manifest{Name: "missing"}, func() ([]byte, error) {
		return nil, errors.New("no such file")
	})
	require.ErrorIs(t, err, ErrCannotRead)
	assert.NotZero(t, id)
	assert.True(t, reporter.failedWith(ErrCannotRead))
	assert.Empty(t, control.announced)
}

func TestSenderCancel(t *testing.T) {
	reporter := &sendRecorder{}
	sender := NewSender(&IDAllocator{}, reporter, &fakeControl{}, fastOptions())
	defer sender.Close()

	id, err := sender.Send(context.Background(), models.Manifest{Name: "stalled"}, func() ([]byte, error) {
		return []byte("never sent"), nil
	})
	require.NoError(t, err)
	require.True(t, sender.Cancel(id))

	require.Eventually(t, func() bool { return reporter.failedWith(ErrCanceled) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, reporter.doneCount())
}

func TestSenderAbortEndsTransfersAndClosesIdleStreams(t *testing.T) {
	reporter := &sendRecorder{}
	sender := NewSender(&IDAllocator{}, reporter, &fakeControl{}, fastOptions())
	defer sender.Close()

	_, err := sender.Send(context.Background(), models.Manifest{Name: "stranded"}, func() ([]byte, error) {
		return []byte("no stream will come"), nil
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return reporter.failedWith(ErrNoStream) }, 2*time.Second, 5*time.Millisecond)

	sender.Abort(fmt.Errorf("%w: connection lost", ErrLinkDown))
	require.Eventually(t, func() bool { return reporter.failedWith(ErrLinkDown) }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, Transient(ErrLinkDown))
	assert.Equal(t, 0, reporter.doneCount())

	local, remote := pipeConns(t)
	sender.AddStream(local)
	sender.Abort(ErrLinkDown)
	assert.Equal(t, 0, sender.Streams())
	_, err = network.ReadFrame(remote)
	assert.Error(t, err, "idle data connections are closed")
}

func TestSenderWaitsBeforeResendingRefusedBlock(t *testing.T) {
	reporter := &sendRecorder{}
	options := fastOptions()
	options.PardonDelay = 150 * time.Millisecond
	sender := NewSender(&IDAllocator{}, reporter, &fakeControl{}, options)
	defer sender.Close()

	local, remote := pipeConns(t)
	peer := &fakePeer{}
	go peer.serve(remote, func(_ Block, attempt int) network.Signal {
		if attempt == 1 {
			return network.Pardon()
		}
		return network.Accept("", "")
	})
	sender.AddStream(local)

	started := time.Now()
	_, err := sender.Send(context.Background(), models.Manifest{Name: "small"}, func() ([]byte, error) {
		return []byte("hello"), nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return reporter.doneCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(started), options.PardonDelay)
	assert.Equal(t, []uint64{0, 0}, peer.seen())
}
