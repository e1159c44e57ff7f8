package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"filenet/models"
	"filenet/network"
	"filenet/transfer"
)

type recordingNotifier struct {
	mu       sync.Mutex
	infos    []string
	progress map[uint64]uint64
	visible  []bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{progress: make(map[uint64]uint64)}
}

func (n *recordingNotifier) Info(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, text)
}

func (n *recordingNotifier) Progress(_ network.Direction, id uint64, _ string, done, _ uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress[id] = done
}

func (n *recordingNotifier) progressed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, done := range n.progress {
		if done > 0 {
			return true
		}
	}
	return false
}

func (n *recordingNotifier) SetVisible(visible bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.visible = append(n.visible, visible)
}

func (n *recordingNotifier) saw(fragment string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, info := range n.infos {
		if strings.Contains(info, fragment) {
			return true
		}
	}
	return false
}

type finishedRun struct {
	status   string
	detail   string
	location string
}

type recordingJournal struct {
	mu       sync.Mutex
	started  map[uint64]string
	finished map[uint64]finishedRun
	peers    []string
	events   []string
	progress int
}

func newRecordingJournal() *recordingJournal {
	return &recordingJournal{
		started:  make(map[uint64]string),
		finished: make(map[uint64]finishedRun),
	}
}

func (j *recordingJournal) TransferStarted(direction string, runID, _ uint64, _ string, _ int64, _ uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.started[runID] = direction
}

func (j *recordingJournal) TransferProgress(uint64, uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress++
}

func (j *recordingJournal) progressWrites() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

func (j *recordingJournal) TransferFinished(runID uint64, status, detail, location string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished[runID] = finishedRun{status: status, detail: detail, location: location}
}

func (j *recordingJournal) PeerLinked(address, _ string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.peers = append(j.peers, address)
}

func (j *recordingJournal) LinkEvent(eventType, _, _ string, _ map[string]any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, eventType)
}

func (j *recordingJournal) finishedRun(runID uint64) (finishedRun, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	run, ok := j.finished[runID]
	return run, ok
}

func (j *recordingJournal) peerCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.peers)
}

func (j *recordingJournal) finishedWith(status string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	count := 0
	for _, run := range j.finished {
		if run.status == status {
			count++
		}
	}
	return count
}

type memoryFiles struct {
	mu      sync.Mutex
	sources map[string][]byte
	saved   map[string][]byte
}

func newMemoryFiles() *memoryFiles {
	return &memoryFiles{
		sources: make(map[string][]byte),
		saved:   make(map[string][]byte),
	}
}

func (f *memoryFiles) Resolve(manifest models.Manifest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.sources[manifest.Name]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}

func (f *memoryFiles) Save(manifest models.Manifest, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[manifest.Name] = append([]byte(nil), data...)
	return fmt.Sprintf("mem://%s", manifest.Name), nil
}

func (f *memoryFiles) savedFile(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.saved[name]
	return data, ok
}

func fastOptions(name string) Options {
	return Options{
		Link: network.LinkOptions{
			Local:          models.Peer{IPAddr: "127.0.0.1", Name: name},
			IOTimeout:      300 * time.Millisecond,
			KeepAliveDelay: 10 * time.Millisecond,
			PardonDelay:    5 * time.Millisecond,
			RecoveryDelay:  5 * time.Millisecond,
			PairingTimeout: 2 * time.Second,
			DialTimeout:    2 * time.Second,
		},
		Transfer: transfer.Options{
			BlockSize:   1024,
			IOTimeout:   300 * time.Millisecond,
			RetryDelay:  20 * time.Millisecond,
			PardonDelay: 5 * time.Millisecond,
		},
		StepInterval: 10 * time.Millisecond,
	}
}
