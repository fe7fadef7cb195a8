// Package assessment bridges the screener engine to the assessment records
// that own it: a conversation starts from an assessment and writes its score
// back when the screener completes.
package assessment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/careloop-health/screener-engine/internal/screener"
)

// ErrNotFound is returned when an assessment id does not exist.
var ErrNotFound = errors.New("assessment: not found")

// PgxPool is the subset of pgxpool.Pool the provider uses.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGProvider resolves assessments from Postgres. It implements
// screener.AssessmentProvider.
type PGProvider struct {
	pool PgxPool
}

func NewPGProvider(pool PgxPool) *PGProvider {
	if pool == nil {
		panic("assessment: pgx pool cannot be nil")
	}
	return &PGProvider{pool: pool}
}

func (p *PGProvider) Resolve(ctx context.Context, assessmentID string) (screener.AssessmentInfo, error) {
	query := `SELECT id, user_id, screener_type FROM assessments WHERE id = $1`

	var info screener.AssessmentInfo
	var screenerType string
	err := p.pool.QueryRow(ctx, query, assessmentID).Scan(&info.AssessmentID, &info.UserID, &screenerType)
	if errors.Is(err, pgx.ErrNoRows) {
		return screener.AssessmentInfo{}, fmt.Errorf("%w: %s", ErrNotFound, assessmentID)
	}
	if err != nil {
		return screener.AssessmentInfo{}, fmt.Errorf("assessment: resolve %s: %w", assessmentID, err)
	}

	info.ScreenerType, err = screener.ParseScreenerType(screenerType)
	if err != nil {
		return screener.AssessmentInfo{}, fmt.Errorf("assessment: %s has invalid screener type: %w", assessmentID, err)
	}
	return info, nil
}

// RecordResult writes the completed screener score back onto the assessment.
func (p *PGProvider) RecordResult(ctx context.Context, assessmentID string, score int, severity string) error {
	query := `
		UPDATE assessments
		SET score = $2, severity = $3, completed_at = now(), updated_at = now()
		WHERE id = $1
	`
	tag, err := p.pool.Exec(ctx, query, assessmentID, score, severity)
	if err != nil {
		return fmt.Errorf("assessment: record result for %s: %w", assessmentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, assessmentID)
	}
	return nil
}
