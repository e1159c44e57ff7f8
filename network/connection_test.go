package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filenet/models"
)

type pairedStream struct {
	conn      net.Conn
	direction Direction
}

type recordingEvents struct {
	mu      sync.Mutex
	stops   []error
	streams chan pairedStream
	inbound chan models.BlockDescriptor
	stopped chan error
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{
		streams: make(chan pairedStream, 8),
		inbound: make(chan models.BlockDescriptor, 8),
		stopped: make(chan error, 8),
	}
}

func (r *recordingEvents) StreamAdded(conn net.Conn, direction Direction) {
	r.streams <- pairedStream{conn: conn, direction: direction}
}

func (r *recordingEvents) InboundTransfer(_ models.Manifest, blocks models.BlockDescriptor) {
	r.inbound <- blocks
}

func (r *recordingEvents) LinkStopped(err error) {
	r.mu.Lock()
	r.stops = append(r.stops, err)
	r.mu.Unlock()
	r.stopped <- err
}

func (r *recordingEvents) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stops)
}

func fastLinkOptions(name string) LinkOptions {
	return LinkOptions{
		Local:          models.Peer{IPAddr: "127.0.0.1", Name: name},
		IOTimeout:      300 * time.Millisecond,
		KeepAliveDelay: 10 * time.Millisecond,
		PardonDelay:    5 * time.Millisecond,
		RecoveryDelay:  5 * time.Millisecond,
		PairingTimeout: 2 * time.Second,
		DialTimeout:    2 * time.Second,
	}
}

func TestLinkTearsDownAfterRepeatedReadFailures(t *testing.T) {
	local, remote := net.Pipe()
	require.NoError(t, remote.Close())

	events := newRecordingEvents()
	link := NewLink(local, ListenerRole(nil, 0), models.Peer{Name: "gone"}, events, fastLinkOptions("local"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := link.Run(ctx)
	require.ErrorIs(t, err, ErrLinkLost)
	assert.Equal(t, 1, events.stopCount())
	assert.ErrorIs(t, <-events.stopped, ErrLinkLost)
}

func TestLinkReportsShutOnceAndKeepsRunning(t *testing.T) {
	local, remote := net.Pipe()
	defer func() {
		_ = remote.Close()
	}()
	go func() {
		_, _ = io.Copy(io.Discard, remote)
	}()

	events := newRecordingEvents()
	link := NewLink(local, ListenerRole(nil, 0), models.Peer{Name: "peer"}, events, fastLinkOptions("local"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- link.Run(ctx)
	}()

	require.NoError(t, WriteSignal(remote, time.Second, Shut()))

	select {
	case err := <-events.stopped:
		assert.ErrorIs(t, err, ErrPeerShut)
	case <-time.After(2 * time.Second):
		t.Fatal("expected stop notification after Shut")
	}

	select {
	case err := <-done:
		t.Fatalf("link returned on Shut alone: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrLinkLost))
	case <-time.After(3 * time.Second):
		t.Fatal("link did not stop after cancel")
	}
	assert.Equal(t, 1, events.stopCount())
}

func TestLinkPairsDataStreamsOverLoopback(t *testing.T) {
	listenerSide, connectorSide := establishPair(t)

	listenerEvents := newRecordingEvents()
	connectorEvents := newRecordingEvents()
	listenerLink := NewLink(listenerSide.Conn, listenerSide.Role, listenerSide.Peer, listenerEvents, fastLinkOptions("host"))
	connectorLink := NewLink(connectorSide.Conn, connectorSide.Role, connectorSide.Peer, connectorEvents, fastLinkOptions("guest"))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = listenerLink.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = connectorLink.Run(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	require.True(t, connectorLink.RequestStream())

	sender := waitStream(t, connectorEvents.streams)
	receiver := waitStream(t, listenerEvents.streams)
	defer func() {
		_ = sender.conn.Close()
		_ = receiver.conn.Close()
	}()
	assert.Equal(t, DirectionSend, sender.direction)
	assert.Equal(t, DirectionReceive, receiver.direction)

	require.NoError(t, WriteFrameWithTimeout(sender.conn, time.Second, []byte("block")))
	payload, err := ReadFrameWithTimeout(receiver.conn, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "block", string(payload))

	// The listener side can ask too; its stream dials back through the connector's role.
	require.True(t, listenerLink.RequestStream())
	reverseSender := waitStream(t, listenerEvents.streams)
	reverseReceiver := waitStream(t, connectorEvents.streams)
	defer func() {
		_ = reverseSender.conn.Close()
		_ = reverseReceiver.conn.Close()
	}()
	assert.Equal(t, DirectionSend, reverseSender.direction)
	assert.Equal(t, DirectionReceive, reverseReceiver.direction)
}

func TestLinkForwardsPostFile(t *testing.T) {
	listenerSide, connectorSide := establishPair(t)

	listenerEvents := newRecordingEvents()
	connectorEvents := newRecordingEvents()
	listenerLink := NewLink(listenerSide.Conn, listenerSide.Role, listenerSide.Peer, listenerEvents, fastLinkOptions("host"))
	connectorLink := NewLink(connectorSide.Conn, connectorSide.Role, connectorSide.Peer, connectorEvents, fastLinkOptions("guest"))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = listenerLink.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = connectorLink.Run(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	blocks := models.BlockDescriptor{TransferID: 9, BlockSize: 4, BlockCount: 2, Length: 6}
	require.True(t, connectorLink.Forward(PostFile(models.Manifest{Name: "x", Size: 6}, blocks)))

	select {
	case got := <-listenerEvents.inbound:
		assert.Equal(t, blocks, got)
	case <-time.After(3 * time.Second):
		t.Fatal("post_file never reached the listener")
	}
}

func waitStream(t *testing.T, streams <-chan pairedStream) pairedStream {
	t.Helper()
	select {
	case stream := <-streams:
		return stream
	case <-time.After(5 * time.Second):
		t.Fatal("no data stream paired")
		return pairedStream{}
	}
}
