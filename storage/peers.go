package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// RecordPeer inserts a peer on its first link and bumps its counters afterwards.
func (s *Store) RecordPeer(address, name string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return errors.New("address is required")
	}

	now := nowUnixMilli()
	_, err := s.db.Exec(
		`INSERT INTO peers (address, name, first_seen_at, last_seen_at, link_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			last_seen_at = excluded.last_seen_at,
			link_count = peers.link_count + 1`,
		address,
		name,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("record peer %q: %w", address, err)
	}

	return nil
}

// GetPeer fetches a peer by address.
func (s *Store) GetPeer(address string) (*Peer, error) {
	row := s.db.QueryRow(
		`SELECT address, name, first_seen_at, last_seen_at, link_count
		FROM peers
		WHERE address = ?`,
		address,
	)

	peer, err := scanPeer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get peer %q: %w", address, err)
	}
	return peer, nil
}

// ListPeers returns known peers, most recently seen first.
func (s *Store) ListPeers() ([]Peer, error) {
	rows, err := s.db.Query(
		`SELECT address, name, first_seen_at, last_seen_at, link_count
		FROM peers
		ORDER BY last_seen_at DESC, address`,
	)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	peers := make([]Peer, 0)
	for rows.Next() {
		peer, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan peer row: %w", err)
		}
		peers = append(peers, *peer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peer rows: %w", err)
	}

	return peers, nil
}

func scanPeer(row scanner) (*Peer, error) {
	var peer Peer
	if err := row.Scan(
		&peer.Address,
		&peer.Name,
		&peer.FirstSeenAt,
		&peer.LastSeenAt,
		&peer.LinkCount,
	); err != nil {
		return nil, err
	}
	return &peer, nil
}
