package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SetEventRetention configures the automatic link event pruning horizon.
func (s *Store) SetEventRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	s.eventRetention = retention
}

// LogLinkEvent inserts a structured link event and applies retention pruning.
func (s *Store) LogLinkEvent(event LinkEvent) error {
	if strings.TrimSpace(event.EventType) == "" {
		return errors.New("event_type is required")
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if err := validateSeverity(event.Severity); err != nil {
		return err
	}
	if event.Details == "" {
		event.Details = "{}"
	}
	if !json.Valid([]byte(event.Details)) {
		return errors.New("details must be valid JSON text")
	}
	if event.Timestamp == 0 {
		event.Timestamp = nowUnixMilli()
	}

	var peer *string
	if event.Peer != nil {
		trimmed := strings.TrimSpace(*event.Peer)
		if trimmed != "" {
			peer = &trimmed
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO link_events (
			session_id,
			event_type,
			peer,
			details,
			severity,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?)`,
		event.SessionID,
		event.EventType,
		nullString(peer),
		event.Details,
		event.Severity,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert link event %q: %w", event.EventType, err)
	}

	if s.eventRetention > 0 {
		cutoff := time.Now().Add(-s.eventRetention).UnixMilli()
		if _, err := s.PruneLinkEvents(cutoff); err != nil {
			return fmt.Errorf("prune link events: %w", err)
		}
	}

	return nil
}

// GetLinkEvents returns recent link events, newest first.
func (s *Store) GetLinkEvents(filter LinkEventFilter) ([]LinkEvent, error) {
	if filter.Severity != "" {
		if err := validateSeverity(filter.Severity); err != nil {
			return nil, err
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
		id,
		session_id,
		event_type,
		peer,
		details,
		severity,
		timestamp
	FROM link_events`)

	where := make([]string, 0, 4)
	args := make([]any, 0, 5)

	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.Peer != "" {
		where = append(where, "peer = ?")
		args = append(args, filter.Peer)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.FromTimestamp != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.FromTimestamp)
	}

	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY timestamp DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get link events: %w", err)
	}
	defer rows.Close()

	events := make([]LinkEvent, 0)
	for rows.Next() {
		event, err := scanLinkEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link event row: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate link event rows: %w", err)
	}

	return events, nil
}

// PruneLinkEvents removes link events older than cutoffTimestamp.
func (s *Store) PruneLinkEvents(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM link_events WHERE timestamp < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune link events: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for link event prune: %w", err)
	}

	return rowsAffected, nil
}

func scanLinkEvent(row scanner) (*LinkEvent, error) {
	var (
		event LinkEvent
		peer  sql.NullString
	)
	if err := row.Scan(
		&event.ID,
		&event.SessionID,
		&event.EventType,
		&peer,
		&event.Details,
		&event.Severity,
		&event.Timestamp,
	); err != nil {
		return nil, err
	}

	event.Peer = stringPtr(peer)
	return &event, nil
}
