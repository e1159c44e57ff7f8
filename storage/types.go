package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	DirectionSend    = "send"
	DirectionReceive = "receive"
)

const (
	StatusActive      = "active"
	StatusComplete    = "complete"
	StatusFailed      = "failed"
	StatusCanceled    = "canceled"
	StatusInterrupted = "interrupted"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Transfer is one journaled run of the sender or receiver engine. A run is
// identified by the process session and the run id handed out in it.
type Transfer struct {
	SessionID  string
	RunID      uint64
	Direction  string
	WireID     uint64
	Name       string
	Size       int64
	BlockCount uint64
	BlocksDone uint64
	Status     string
	Detail     string
	Location   string
	StartedAt  int64
	UpdatedAt  int64
}

// Peer is a remote side this host has held a link with.
type Peer struct {
	Address     string
	Name        string
	FirstSeenAt int64
	LastSeenAt  int64
	LinkCount   int64
}

// LinkEvent is a structured record of something that happened to a link.
type LinkEvent struct {
	ID        int64
	SessionID string
	EventType string
	Peer      *string
	Details   string
	Severity  string
	Timestamp int64
}

// LinkEventFilter narrows GetLinkEvents results.
type LinkEventFilter struct {
	EventType     string
	Peer          string
	Severity      string
	FromTimestamp *int64
	Limit         int
}

type scanner interface {
	Scan(dest ...any) error
}

func validateDirection(direction string) error {
	switch direction {
	case DirectionSend, DirectionReceive:
		return nil
	default:
		return fmt.Errorf("invalid transfer direction %q", direction)
	}
}

func validateTransferStatus(status string) error {
	switch status {
	case StatusActive, StatusComplete, StatusFailed, StatusCanceled, StatusInterrupted:
		return nil
	default:
		return fmt.Errorf("invalid transfer status %q", status)
	}
}

func validateSeverity(severity string) error {
	switch severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid link event severity %q", severity)
	}
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
