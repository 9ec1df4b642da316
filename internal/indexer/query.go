package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

type SnapshotFilter struct {
	Since       int64
	Fingerprint string
	WithPayload bool
	Limit       int
	Offset      int
}

type SnapshotRecord struct {
	ID                int64           `json:"id"`
	Fingerprint       string          `json:"fingerprint"`
	PublishedAt       int64           `json:"published_at"`
	MarketCount       int             `json:"market_count"`
	RequestQueueCount int             `json:"request_queue_count"`
	EventQueueCount   int             `json:"event_queue_count"`
	UserCount         int             `json:"user_count"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}

func (s *Store) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]SnapshotRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 4)

	if filter.Since > 0 {
		clauses = append(clauses, "published_at >= ?")
		args = append(args, filter.Since)
	}
	if filter.Fingerprint != "" {
		clauses = append(clauses, "fingerprint = ?")
		args = append(args, filter.Fingerprint)
	}

	payloadColumn := "''"
	if filter.WithPayload {
		payloadColumn = "payload"
	}

	query := fmt.Sprintf(`
		SELECT
			id,
			fingerprint,
			published_at,
			market_count,
			request_queue_count,
			event_queue_count,
			user_count,
			%s
		FROM indexer_snapshots
		WHERE %s
		ORDER BY published_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, payloadColumn, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]SnapshotRecord, 0, limit)
	for rows.Next() {
		var item SnapshotRecord
		var payload string
		if err := rows.Scan(
			&item.ID,
			&item.Fingerprint,
			&item.PublishedAt,
			&item.MarketCount,
			&item.RequestQueueCount,
			&item.EventQueueCount,
			&item.UserCount,
			&payload,
		); err != nil {
			return nil, 0, 0, err
		}
		if payload != "" {
			item.Payload = json.RawMessage(payload)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
