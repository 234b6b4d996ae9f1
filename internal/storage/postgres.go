package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/2beens/gymweb/internal/telemetry/tracing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
)

const createKVTableSQL = `
CREATE TABLE IF NOT EXISTS public.session_kv
(
    key        VARCHAR PRIMARY KEY,
    value      TEXT        NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// pgxQuerier is satisfied by *pgxpool.Pool and pgx.Tx
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db        pgxQuerier
	keyPrefix string
}

func NewPostgresStore(db pgxQuerier, keyPrefix string) *PostgresStore {
	return &PostgresStore{
		db:        db,
		keyPrefix: keyPrefix,
	}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createKVTableSQL); err != nil {
		return fmt.Errorf("create session_kv table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (_ string, _ bool, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "storage.postgres.get")
	defer func() { tracing.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("key", key))

	if key == "" {
		return "", false, ErrEmptyKey
	}

	var value string
	err = s.db.QueryRow(ctx,
		`SELECT value FROM public.session_kv WHERE key = $1`,
		s.keyPrefix+key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "storage.postgres.set")
	defer func() { tracing.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("key", key))

	if key == "" {
		return ErrEmptyKey
	}

	if _, err = s.db.Exec(ctx, `
		INSERT INTO public.session_kv (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		s.keyPrefix+key, value,
	); err != nil {
		return fmt.Errorf("postgres set %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, key string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "storage.postgres.remove")
	defer func() { tracing.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("key", key))

	if key == "" {
		return ErrEmptyKey
	}

	if _, err = s.db.Exec(ctx,
		`DELETE FROM public.session_kv WHERE key = $1`,
		s.keyPrefix+key,
	); err != nil {
		return fmt.Errorf("postgres remove %s: %w", key, err)
	}
	return nil
}
