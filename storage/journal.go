package storage

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Journal records the transfers and links of one process session. Write
// failures are logged and swallowed; the journal never stops a transfer.
type Journal struct {
	store     *Store
	sessionID string
}

// NewJournal starts a session on store. Active runs left behind by earlier
// sessions are marked interrupted.
func NewJournal(store *Store) *Journal {
	journal := &Journal{
		store:     store,
		sessionID: uuid.NewString(),
	}

	interrupted, err := store.InterruptStale(journal.sessionID)
	if err != nil {
		logrus.WithField("error", err).Warn("Failed to close out stale transfers")
	} else if interrupted > 0 {
		logrus.WithField("count", interrupted).Info("Marked transfers from an earlier session as interrupted")
	}
	return journal
}

// SessionID is the uuid this journal writes under.
func (j *Journal) SessionID() string {
	return j.sessionID
}

// TransferStarted journals a new run.
func (j *Journal) TransferStarted(direction string, runID, wireID uint64, name string, size int64, blocks uint64) {
	err := j.store.BeginTransfer(Transfer{
		SessionID:  j.sessionID,
		RunID:      runID,
		Direction:  direction,
		WireID:     wireID,
		Name:       name,
		Size:       size,
		BlockCount: blocks,
	})
	j.logFailure(err, "Failed to journal transfer start", runID)
}

// TransferProgress journals the done-block count of a run.
func (j *Journal) TransferProgress(runID, done uint64) {
	j.logFailure(j.store.AdvanceTransfer(j.sessionID, runID, done), "Failed to journal transfer progress", runID)
}

// TransferFinished journals the terminal status of a run.
func (j *Journal) TransferFinished(runID uint64, status, detail, location string) {
	err := j.store.FinishTransfer(j.sessionID, runID, status, detail, location)
	j.logFailure(err, "Failed to journal transfer result", runID)
}

// PeerLinked journals a completed handshake with address.
func (j *Journal) PeerLinked(address, name string) {
	if err := j.store.RecordPeer(address, name); err != nil {
		logrus.WithFields(logrus.Fields{
			"peer":  address,
			"error": err,
		}).Warn("Failed to journal peer")
	}
}

// LinkEvent journals something that happened to a link.
func (j *Journal) LinkEvent(eventType, peer, severity string, details map[string]any) {
	raw := []byte("{}")
	if len(details) > 0 {
		encoded, err := json.Marshal(details)
		if err == nil {
			raw = encoded
		}
	}

	event := LinkEvent{
		SessionID: j.sessionID,
		EventType: eventType,
		Details:   string(raw),
		Severity:  severity,
	}
	if peer != "" {
		event.Peer = &peer
	}
	if err := j.store.LogLinkEvent(event); err != nil {
		logrus.WithFields(logrus.Fields{
			"event": eventType,
			"error": err,
		}).Warn("Failed to journal link event")
	}
}

func (j *Journal) logFailure(err error, message string, runID uint64) {
	if err == nil {
		return
	}
	logrus.WithFields(logrus.Fields{
		"session": j.sessionID,
		"run_id":  runID,
		"error":   err,
	}).Warn(message)
}
