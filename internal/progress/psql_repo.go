package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/2beens/posecoach/internal/telemetry/tracing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// documentID is the key of the single progress row.
const documentID = 1

// PsqlRepo stores the progress document as JSONB in a single-row table.
type PsqlRepo struct {
	db *pgxpool.Pool
}

func NewPsqlRepo(db *pgxpool.Pool) *PsqlRepo {
	return &PsqlRepo{
		db: db,
	}
}

// EnsureSchema creates the progress table when missing.
func (r *PsqlRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS progress (
			id         INTEGER PRIMARY KEY,
			document   JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	)
	if err != nil {
		return fmt.Errorf("create progress table: %w", err)
	}
	return nil
}

func (r *PsqlRepo) Load(ctx context.Context) (_ *Progress, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "psqlRepo.load")
	defer tracing.EndSpanWithErrCheck(span, &err)

	var raw []byte
	err = r.db.QueryRow(
		ctx,
		`SELECT document FROM progress WHERE id = $1;`,
		documentID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("select progress: %w", err)
	}

	p, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse progress document: %w", err)
	}
	return p, nil
}

func (r *PsqlRepo) Save(ctx context.Context, p *Progress) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "psqlRepo.save")
	defer tracing.EndSpanWithErrCheck(span, &err)

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	tag, err := r.db.Exec(
		ctx,
		`INSERT INTO progress (id, document, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = now();`,
		documentID, raw,
	)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("upsert progress: unexpected rows affected: %d", tag.RowsAffected())
	}
	return nil
}
