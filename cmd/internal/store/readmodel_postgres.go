package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"chatsync/cmd/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresReadModel is a ReadModel backed by PostgreSQL.
//
// Ownership model:
// - PostgresReadModel does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresReadModel struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresReadModel behavior.
type PostgresOption func(*PostgresReadModel) error

// WithSchema sets the DB schema used by the read model (default: "chatsync").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresReadModel) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("store: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("store: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresReadModel constructs a Postgres-backed ReadModel.
func NewPostgresReadModel(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresReadModel, error) {
	rm := &PostgresReadModel{
		pool:   pool,
		schema: "chatsync",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(rm); err != nil {
			return nil, err
		}
	}
	if rm.pool == nil {
		return nil, errors.New("store: nil pool")
	}
	return rm, nil
}

// EnsureSchema creates the schema and the mirror table when missing.
func (r *PostgresReadModel) EnsureSchema(ctx context.Context) error {
	messages := pgIdent(r.schema, "mirrored_messages")
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  storage_key TEXT        NOT NULL,
  local_id    BIGINT      NOT NULL,
  peer_id     BIGINT      NOT NULL,
  server_id   INTEGER     NOT NULL DEFAULT 0,
  body        JSONB       NOT NULL,
  updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (storage_key, local_id)
);`, pgx.Identifier{r.schema}.Sanitize(), messages)

	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close is a no-op because the pool is owned by the caller.
func (r *PostgresReadModel) Close() error { return nil }

// Ping implements ReadModel.
func (r *PostgresReadModel) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

// Put upserts the message under (storageKey, id).
func (r *PostgresReadModel) Put(ctx context.Context, storageKey string, id int64, msg *model.Message) error {
	if msg == nil {
		return errors.New("store: nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	messages := pgIdent(r.schema, "mirrored_messages")
	_, err = r.pool.Exec(ctx,
		`INSERT INTO `+messages+` (storage_key, local_id, peer_id, server_id, body)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (storage_key, local_id) DO UPDATE
		    SET peer_id = EXCLUDED.peer_id,
		        server_id = EXCLUDED.server_id,
		        body = EXCLUDED.body,
		        updated_at = now()`,
		storageKey, id, int64(msg.PeerID), msg.ServerID, body,
	)
	if err != nil {
		return fmt.Errorf("upsert mirrored message: %w", err)
	}
	return nil
}

// Remove deletes (storageKey, id); a missing row is not an error.
func (r *PostgresReadModel) Remove(ctx context.Context, storageKey string, id int64) error {
	messages := pgIdent(r.schema, "mirrored_messages")
	_, err := r.pool.Exec(ctx,
		`DELETE FROM `+messages+` WHERE storage_key = $1 AND local_id = $2`,
		storageKey, id,
	)
	return err
}

// Get reads back one mirrored message.
func (r *PostgresReadModel) Get(ctx context.Context, storageKey string, id int64) (*model.Message, error) {
	messages := pgIdent(r.schema, "mirrored_messages")

	var body []byte
	err := r.pool.QueryRow(ctx,
		`SELECT body FROM `+messages+` WHERE storage_key = $1 AND local_id = $2`,
		storageKey, id,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var m model.Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode mirrored message: %w", err)
	}
	return &m, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
