package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// BeginTransfer inserts a new active transfer row.
func (s *Store) BeginTransfer(transfer Transfer) error {
	if transfer.SessionID == "" {
		return errors.New("session_id is required")
	}
	if transfer.RunID == 0 {
		return errors.New("run_id is required")
	}
	if transfer.Name == "" {
		return errors.New("name is required")
	}
	if err := validateDirection(transfer.Direction); err != nil {
		return err
	}
	if transfer.Status == "" {
		transfer.Status = StatusActive
	}
	if err := validateTransferStatus(transfer.Status); err != nil {
		return err
	}
	if transfer.StartedAt == 0 {
		transfer.StartedAt = nowUnixMilli()
	}
	if transfer.UpdatedAt == 0 {
		transfer.UpdatedAt = transfer.StartedAt
	}

	_, err := s.db.Exec(
		`INSERT INTO transfers (
			session_id,
			run_id,
			direction,
			wire_id,
			name,
			size,
			block_count,
			blocks_done,
			status,
			detail,
			location,
			started_at,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		transfer.SessionID,
		int64(transfer.RunID),
		transfer.Direction,
		int64(transfer.WireID),
		transfer.Name,
		transfer.Size,
		int64(transfer.BlockCount),
		int64(transfer.BlocksDone),
		transfer.Status,
		transfer.Detail,
		transfer.Location,
		transfer.StartedAt,
		transfer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer %s/%d: %w", transfer.SessionID, transfer.RunID, err)
	}

	return nil
}

// AdvanceTransfer records how many blocks of a run are done.
func (s *Store) AdvanceTransfer(sessionID string, runID, blocksDone uint64) error {
	res, err := s.db.Exec(
		`UPDATE transfers
		SET blocks_done = ?, updated_at = ?
		WHERE session_id = ? AND run_id = ?`,
		int64(blocksDone),
		nowUnixMilli(),
		sessionID,
		int64(runID),
	)
	if err != nil {
		return fmt.Errorf("advance transfer %s/%d: %w", sessionID, runID, err)
	}
	return requireRow(res, fmt.Sprintf("transfer %s/%d", sessionID, runID))
}

// FinishTransfer moves a run to a terminal status.
func (s *Store) FinishTransfer(sessionID string, runID uint64, status, detail, location string) error {
	if err := validateTransferStatus(status); err != nil {
		return err
	}
	if status == StatusActive {
		return errors.New("finish status must be terminal")
	}

	res, err := s.db.Exec(
		`UPDATE transfers
		SET status = ?, detail = ?, location = ?, updated_at = ?,
			blocks_done = CASE WHEN ? = 'complete' THEN block_count ELSE blocks_done END
		WHERE session_id = ? AND run_id = ?`,
		status,
		detail,
		location,
		nowUnixMilli(),
		status,
		sessionID,
		int64(runID),
	)
	if err != nil {
		return fmt.Errorf("finish transfer %s/%d: %w", sessionID, runID, err)
	}
	return requireRow(res, fmt.Sprintf("transfer %s/%d", sessionID, runID))
}

// InterruptStale marks active runs of other sessions as interrupted. Those
// runs belonged to a process that exited without finishing them.
func (s *Store) InterruptStale(currentSessionID string) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE transfers
		SET status = 'interrupted', updated_at = ?
		WHERE status = 'active' AND session_id <> ?`,
		nowUnixMilli(),
		currentSessionID,
	)
	if err != nil {
		return 0, fmt.Errorf("interrupt stale transfers: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for stale transfers: %w", err)
	}
	return rowsAffected, nil
}

// GetTransfer fetches one run.
func (s *Store) GetTransfer(sessionID string, runID uint64) (*Transfer, error) {
	row := s.db.QueryRow(
		`SELECT `+transferColumns+`
		FROM transfers
		WHERE session_id = ? AND run_id = ?`,
		sessionID,
		int64(runID),
	)

	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer %s/%d: %w", sessionID, runID, err)
	}
	return transfer, nil
}

// ListTransfers returns the most recently updated runs first.
func (s *Store) ListTransfers(limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT `+transferColumns+`
		FROM transfers
		ORDER BY updated_at DESC, run_id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]Transfer, 0)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer row: %w", err)
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}

	return transfers, nil
}

const transferColumns = `
	session_id,
	run_id,
	direction,
	wire_id,
	name,
	size,
	block_count,
	blocks_done,
	status,
	detail,
	location,
	started_at,
	updated_at`

func scanTransfer(row scanner) (*Transfer, error) {
	var (
		transfer   Transfer
		runID      int64
		wireID     int64
		blockCount int64
		blocksDone int64
	)
	if err := row.Scan(
		&transfer.SessionID,
		&runID,
		&transfer.Direction,
		&wireID,
		&transfer.Name,
		&transfer.Size,
		&blockCount,
		&blocksDone,
		&transfer.Status,
		&transfer.Detail,
		&transfer.Location,
		&transfer.StartedAt,
		&transfer.UpdatedAt,
	); err != nil {
		return nil, err
	}

	transfer.RunID = uint64(runID)
	transfer.WireID = uint64(wireID)
	transfer.BlockCount = uint64(blockCount)
	transfer.BlocksDone = uint64(blocksDone)
	return &transfer, nil
}

func requireRow(res sql.Result, what string) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for %s: %w", what, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
