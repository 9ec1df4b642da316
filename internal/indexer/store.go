package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store persists published snapshots in Postgres.
type Store struct {
	db        *DB
	retention int
	now       func() time.Time
}

type DB struct {
	raw *sql.DB
}

type Tx struct {
	raw *sql.Tx
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx}, nil
}

func (db *DB) Close() error {
	return db.raw.Close()
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) Commit() error {
	return tx.raw.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.raw.Rollback()
}

func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				// SQL escape: two single quotes inside a string literal.
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}

		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}

		out.WriteByte(ch)
	}

	return out.String()
}

// NewStore connects, pings and migrates. retention bounds the number of
// snapshots kept; 0 keeps everything.
func NewStore(dbDSN string, retention int) (*Store, error) {
	db, err := sql.Open("pgx", dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(8)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{db: &DB{raw: db}, retention: retention, now: time.Now}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS indexer_snapshots (
			id BIGSERIAL PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			published_at BIGINT NOT NULL,
			market_count INTEGER NOT NULL,
			request_queue_count INTEGER NOT NULL,
			event_queue_count INTEGER NOT NULL,
			user_count INTEGER NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_indexer_snapshots_published_at ON indexer_snapshots(published_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_indexer_snapshots_fingerprint ON indexer_snapshots(fingerprint);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate indexer_snapshots: %w", err)
		}
	}
	return nil
}

// InsertSnapshot stores one published snapshot and prunes rows beyond the
// retention window in the same transaction.
func (s *Store) InsertSnapshot(ctx context.Context, fingerprint string, snapshot Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	return s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO indexer_snapshots (
				fingerprint,
				published_at,
				market_count,
				request_queue_count,
				event_queue_count,
				user_count,
				payload
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			fingerprint,
			s.now().UnixMilli(),
			len(snapshot.Markets),
			int(snapshot.RequestQueueCount),
			int(snapshot.EventQueueCount),
			len(snapshot.Users),
			string(payload),
		); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}

		if s.retention <= 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM indexer_snapshots
			WHERE id NOT IN (
				SELECT id FROM indexer_snapshots ORDER BY id DESC LIMIT ?
			)
		`, s.retention); err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
		return nil
	})
}
