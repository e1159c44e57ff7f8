package transfer

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"filenet/models"
)

func pipeConns(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func fastOptions() Options {
	return Options{
		BlockSize:         DefaultBlockSize,
		IOTimeout:         500 * time.Millisecond,
		RetryDelay:        10 * time.Millisecond,
		PardonDelay:       5 * time.Millisecond,
		MaxUnknownRetries: 2,
	}
}

type sendRecorder struct {
	mu       sync.Mutex
	failures []error
	progress []uint64
	done     []uint64
}

func (r *sendRecorder) SendProgress(_ uint64, done, _ uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, done)
}

func (r *sendRecorder) SendFailed(_ uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *sendRecorder) SendDone(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, id)
}

func (r *sendRecorder) failedWith(target error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, err := range r.failures {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (r *sendRecorder) doneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.done)
}

func (r *sendRecorder) progressCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.progress)
}

type announcement struct {
	manifest models.Manifest
	blocks   models.BlockDescriptor
}

type fakeControl struct {
	mu         sync.Mutex
	requests   int
	announced  []announcement
	onAnnounce func(models.Manifest, models.BlockDescriptor)
}

func (c *fakeControl) RequestStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
}

func (c *fakeControl) Announce(manifest models.Manifest, blocks models.BlockDescriptor) {
	c.mu.Lock()
	c.announced = append(c.announced, announcement{manifest: manifest, blocks: blocks})
	hook := c.onAnnounce
	c.mu.Unlock()
	if hook != nil {
		hook(manifest, blocks)
	}
}

func (c *fakeControl) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

type receiveRecorder struct {
	mu       sync.Mutex
	failures []error
	progress int
	done     []models.Manifest
}

func (r *receiveRecorder) ReceiveProgress(_ uint64, _, _ uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress++
}

func (r *receiveRecorder) ReceiveFailed(_ uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *receiveRecorder) ReceiveDone(_ uint64, manifest models.Manifest, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, manifest)
}

func (r *receiveRecorder) failedWith(target error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, err := range r.failures {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (r *receiveRecorder) doneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.done)
}

type memorySink struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func newMemorySink() *memorySink {
	return &memorySink{files: make(map[string][]byte)}
}

func (s *memorySink) Save(manifest models.Manifest, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.files[manifest.Name] = append([]byte(nil), data...)
	return "mem://" + manifest.Name, nil
}

func (s *memorySink) get(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[name]
}
