package repositories

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/purplecabbage/asset-compute-sdk/internal/models"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/errors"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/redact"
)

// Schema creates the ledger table. Hosts run it once at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS activations (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	params      JSONB,
	mode        TEXT NOT NULL DEFAULT '',
	renditions  INTEGER NOT NULL DEFAULT 0,
	error_code  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
)`

// DB is the part of *pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ActivationRepository struct {
	db DB
}

func NewActivationRepository(db DB) *ActivationRepository {
	return &ActivationRepository{db: db}
}

func (r *ActivationRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, Schema)
	return err
}

// Start records an activation as running. A redelivered activation is
// reset to running. URL queries are stripped from the stored params.
func (r *ActivationRepository) Start(ctx context.Context, id string, params json.RawMessage) error {
	if len(params) > 0 {
		params = redactJSON(params)
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO activations (id, status, params)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET status=EXCLUDED.status, params=EXCLUDED.params,
		    error_code='', error='', started_at=now(), finished_at=NULL
	`, id, models.ActivationRunning, params)
	return err
}

func (r *ActivationRepository) Finish(ctx context.Context, id, mode string, renditions int) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE activations
		SET status=$2, mode=$3, renditions=$4, finished_at=now()
		WHERE id=$1
	`, id, models.ActivationDone, mode, renditions)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errors.NotFound("activation", id)
	}
	return nil
}

// Fail stores the error code and the message of cause, with URL queries
// stripped.
func (r *ActivationRepository) Fail(ctx context.Context, id string, cause error) error {
	msg := errors.GetMessage(cause)
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	msg = redact.Text(msg)
	cmd, err := r.db.Exec(ctx, `
		UPDATE activations
		SET status=$2, error_code=$3, error=$4, finished_at=now()
		WHERE id=$1
	`, id, models.ActivationFailed, string(errors.GetCode(cause)), msg)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errors.NotFound("activation", id)
	}
	return nil
}

func redactJSON(doc json.RawMessage) json.RawMessage {
	out := json.RawMessage(redact.Text(string(doc)))
	if !json.Valid(out) {
		return nil
	}
	return out
}

func (r *ActivationRepository) Get(ctx context.Context, id string) (*models.Activation, error) {
	var a models.Activation
	err := r.db.QueryRow(ctx, `
		SELECT id, status, params, mode, renditions, error_code, error, started_at, finished_at
		FROM activations
		WHERE id=$1
	`, id).Scan(
		&a.ID,
		&a.Status,
		&a.Params,
		&a.Mode,
		&a.Renditions,
		&a.ErrorCode,
		&a.Error,
		&a.StartedAt,
		&a.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("activation", id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
