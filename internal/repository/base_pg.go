package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/feichai0017/waybill-processor/internal/models"
)

// ErrBaseNotFound is returned by Get for an unknown base key.
var ErrBaseNotFound = errors.New("base entry not found")

// PGBaseRepo implements BaseRepository on PostgreSQL.
type PGBaseRepo struct {
	DB *sql.DB
}

func NewPGBaseRepo(db *sql.DB) *PGBaseRepo {
	return &PGBaseRepo{DB: db}
}

// Upsert records a sighting. The first stored name and city are kept for the key.
func (r *PGBaseRepo) Upsert(ctx context.Context, key, canonicalName, city string) (*models.BaseEntry, error) {
	const query = `
INSERT INTO base_directory (base_key, canonical_name, city, examples_count, last_seen_at)
VALUES ($1, $2, $3, 1, now())
ON CONFLICT (base_key) DO UPDATE
   SET examples_count = base_directory.examples_count + 1,
       last_seen_at = now()
RETURNING base_key, canonical_name, city, examples_count, last_seen_at`
	entry, err := scanBase(r.DB.QueryRowContext(ctx, query, key, canonicalName, nullString(city)))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert base entry: %w", err)
	}
	return entry, nil
}

func (r *PGBaseRepo) Get(ctx context.Context, key string) (*models.BaseEntry, error) {
	const query = `
SELECT base_key, canonical_name, city, examples_count, last_seen_at
FROM base_directory
WHERE base_key = $1`
	entry, err := scanBase(r.DB.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBaseNotFound
		}
		return nil, err
	}
	return entry, nil
}

func scanBase(row rowScanner) (*models.BaseEntry, error) {
	var (
		e    models.BaseEntry
		city sql.NullString
	)
	if err := row.Scan(&e.Key, &e.CanonicalName, &city, &e.ExamplesCount, &e.LastSeen); err != nil {
		return nil, err
	}
	e.City = city.String
	return &e, nil
}
