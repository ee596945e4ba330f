package ledger

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// PostgresStore keeps every collection in a single JSONB table. Insertion
// order is the BIGSERIAL seq column.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables if they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ledger migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, collection, id string, fields Document) error {
	raw, err := encode(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	query := `
		INSERT INTO ledger_documents (collection, id, fields)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id)
		DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()
	`
	if _, err := s.db.Exec(ctx, query, collection, id, raw); err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, collection, id string, fields Document) error {
	raw, err := encode(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	query := `
		INSERT INTO ledger_documents (collection, id, fields)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query, collection, id, raw)
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrAlreadyExists)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM ledger_documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT fields FROM ledger_documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return decode(id, raw)
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, partial Document) error {
	raw, err := encode(partial)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	query := `
		UPDATE ledger_documents
		SET fields = fields || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND id = $2
	`
	tag, err := s.db.Exec(ctx, query, collection, id, raw)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ScanAll(ctx context.Context, collection string) iter.Seq2[Document, error] {
	return s.scan(ctx,
		`SELECT id, fields FROM ledger_documents WHERE collection = $1 ORDER BY seq`,
		collection,
	)
}

func (s *PostgresStore) ScanWhere(ctx context.Context, collection, field string, value any) iter.Seq2[Document, error] {
	filter, err := json.Marshal(map[string]any{field: value})
	if err != nil {
		return func(yield func(Document, error) bool) {
			yield(nil, fmt.Errorf("encode filter %s.%s: %w", collection, field, err))
		}
	}
	return s.scan(ctx,
		`SELECT id, fields FROM ledger_documents WHERE collection = $1 AND fields @> $2::jsonb ORDER BY seq`,
		collection, filter,
	)
}

func (s *PostgresStore) scan(ctx context.Context, query string, args ...any) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		rows, err := s.db.Query(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("scan: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id  string
				raw []byte
			)
			if err := rows.Scan(&id, &raw); err != nil {
				yield(nil, fmt.Errorf("scan row: %w", err))
				return
			}
			doc, err := decode(id, raw)
			if !yield(doc, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("scan: %w", err))
		}
	}
}

// Append relies on Postgres re-evaluating the WHERE clause against the
// latest row version, so concurrent appends of different values all land.
func (s *PostgresStore) Append(ctx context.Context, collection, id, field string, value any) error {
	elem, err := json.Marshal([]any{value})
	if err != nil {
		return fmt.Errorf("encode %s/%s.%s: %w", collection, id, field, err)
	}

	query := `
		UPDATE ledger_documents
		SET fields = jsonb_set(fields, ARRAY[$3::text], COALESCE(fields->($3::text), '[]'::jsonb) || $4::jsonb),
		    updated_at = now()
		WHERE collection = $1 AND id = $2
		  AND NOT COALESCE(fields->($3::text), '[]'::jsonb) @> $4::jsonb
	`
	tag, err := s.db.Exec(ctx, query, collection, id, field, elem)
	if err != nil {
		return fmt.Errorf("append %s/%s.%s: %w", collection, id, field, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// nothing changed: either the value is already there or the document is missing
	var exists bool
	err = s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_documents WHERE collection = $1 AND id = $2)`,
		collection, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("append %s/%s.%s: %w", collection, id, field, err)
	}
	if !exists {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Increment(ctx context.Context, collection, id, field string, delta int64, dedupKey string) (int64, error) {
	var total int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if dedupKey != "" {
			tag, err := tx.Exec(ctx, `
				INSERT INTO ledger_increments (collection, id, dedup_key)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING
			`, collection, id, dedupKey)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				err := tx.QueryRow(ctx, `
					SELECT COALESCE((fields->>($3::text))::bigint, 0)
					FROM ledger_documents
					WHERE collection = $1 AND id = $2
				`, collection, id, field).Scan(&total)
				if errors.Is(err, pgx.ErrNoRows) {
					return nil
				}
				return err
			}
		}

		return tx.QueryRow(ctx, `
			INSERT INTO ledger_documents (collection, id, fields)
			VALUES ($1, $2, jsonb_build_object($3::text, $4::bigint))
			ON CONFLICT (collection, id) DO UPDATE
			SET fields = ledger_documents.fields || jsonb_build_object(
			        $3::text, COALESCE((ledger_documents.fields->>($3::text))::bigint, 0) + $4::bigint),
			    updated_at = now()
			RETURNING (fields->>($3::text))::bigint
		`, collection, id, field, delta).Scan(&total)
	})
	if err != nil {
		return 0, fmt.Errorf("increment %s/%s.%s: %w", collection, id, field, err)
	}
	return total, nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback(ctx) // safe even if already committed
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func encode(d Document) ([]byte, error) {
	if _, ok := d[KeyField]; ok {
		stripped := make(Document, len(d))
		for k, v := range d {
			if k != KeyField {
				stripped[k] = v
			}
		}
		d = stripped
	}
	return json.Marshal(d)
}

func decode(id string, raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	if doc == nil {
		doc = Document{}
	}
	doc[KeyField] = id
	return doc, nil
}
