package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkrogh/taletid/internal/transcript"
)

// PostgresStore persists call history in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_history (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			reason TEXT NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			voice_id TEXT NOT NULL DEFAULT '',
			voice_name TEXT NOT NULL DEFAULT '',
			messages JSONB NOT NULL DEFAULT '[]'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_history_ended ON call_history (ended_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveCall(ctx context.Context, record CallRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}
	messages, err := json.Marshal(record.Messages)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO call_history (id, started_at, ended_at, reason, error_kind, voice_id, voice_name, messages)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID,
		record.StartedAt,
		record.EndedAt,
		record.Reason,
		record.ErrorKind,
		record.VoiceID,
		record.VoiceName,
		messages,
	)
	if err != nil {
		return fmt.Errorf("save call: %w", err)
	}
	return nil
}

// RecentCalls returns up to limit calls, newest first.
func (s *PostgresStore) RecentCalls(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, ended_at, reason, error_kind, voice_id, voice_name, messages
		 FROM call_history ORDER BY ended_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query call history: %w", err)
	}
	defer rows.Close()

	items := make([]CallRecord, 0, limit)
	for rows.Next() {
		var r CallRecord
		var messages []byte
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.EndedAt, &r.Reason, &r.ErrorKind, &r.VoiceID, &r.VoiceName, &messages); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		if len(messages) > 0 {
			if err := json.Unmarshal(messages, &r.Messages); err != nil {
				return nil, fmt.Errorf("decode transcript: %w", err)
			}
		}
		if r.Messages == nil {
			r.Messages = []transcript.Message{}
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call rows: %w", err)
	}

	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
