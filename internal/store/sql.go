package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"breakerd/internal/domain"
)

// SQLStore keeps the same document as FileStore in a single-row
// Postgres table, for deployments where the service host has no
// durable local disk.
type SQLStore struct {
	db *sqlx.DB
}

func OpenSQL(dsn string) (*SQLStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state_document (
		id int PRIMARY KEY CHECK (id = 1),
		document jsonb NOT NULL,
		updated_at timestamptz NOT NULL DEFAULT now()
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Load(ctx context.Context) (domain.Snapshot, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT document FROM state_document WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EmptySnapshot(), nil
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load state document: %w", err)
	}
	snap := domain.EmptySnapshot()
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("corrupt state document: %w", err)
	}
	return snap, nil
}

func (s *SQLStore) Save(ctx context.Context, snap domain.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO state_document (id, document, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET document = $1, updated_at = now()`, raw)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
