package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/drip-service/internal/model"
)

type SentDripRepositoryInterface interface {
	Create(ctx context.Context, sd *model.SentDrip) error
	CreateBatch(ctx context.Context, sds []*model.SentDrip) error
	SentUserIDs(ctx context.Context, dripID int64, cutoff time.Time) ([]int64, error)
	ListByDrip(ctx context.Context, dripID int64, offset, limit int) ([]*model.SentDrip, int, error)
	Stats(ctx context.Context, dripID int64) (*model.DripStats, error)
}

var _ SentDripRepositoryInterface = (*SentDripRepository)(nil)

// SentDripRepository is the append-only ledger of delivered drips.
type SentDripRepository struct {
	DB *sql.DB
}

const insertSentDrip = `
	INSERT INTO sent_drips (drip_id, user_id, subject, body, sent_at)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id
`

func (r *SentDripRepository) Create(ctx context.Context, sd *model.SentDrip) error {
	return r.DB.QueryRowContext(ctx, insertSentDrip, sd.DripID, sd.UserID, sd.Subject, sd.Body, sd.SentAt).Scan(&sd.ID)
}

// CreateBatch writes every entry or none of them.
func (r *SentDripRepository) CreateBatch(ctx context.Context, sds []*model.SentDrip) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, sd := range sds {
		if err := tx.QueryRowContext(ctx, insertSentDrip, sd.DripID, sd.UserID, sd.Subject, sd.Body, sd.SentAt).Scan(&sd.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SentUserIDs lists users that received the drip at or before cutoff. The
// bound is inclusive: a run records sent_at = its now, so a rerun at the same
// now must see those rows.
func (r *SentDripRepository) SentUserIDs(ctx context.Context, dripID int64, cutoff time.Time) ([]int64, error) {
	query := `SELECT DISTINCT user_id FROM sent_drips WHERE drip_id=$1 AND sent_at <= $2 ORDER BY user_id`
	rows, err := r.DB.QueryContext(ctx, query, dripID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SentDripRepository) ListByDrip(ctx context.Context, dripID int64, offset, limit int) ([]*model.SentDrip, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sent_drips WHERE drip_id=$1`, dripID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, drip_id, user_id, subject, body, sent_at
		FROM sent_drips
		WHERE drip_id=$1
		ORDER BY sent_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.DB.QueryContext(ctx, query, dripID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sent := []*model.SentDrip{}
	for rows.Next() {
		var sd model.SentDrip
		if err := rows.Scan(&sd.ID, &sd.DripID, &sd.UserID, &sd.Subject, &sd.Body, &sd.SentAt); err != nil {
			return nil, 0, err
		}
		sent = append(sent, &sd)
	}
	return sent, total, rows.Err()
}

func (r *SentDripRepository) Stats(ctx context.Context, dripID int64) (*model.DripStats, error) {
	query := `SELECT COUNT(*), COUNT(DISTINCT user_id), MAX(sent_at) FROM sent_drips WHERE drip_id=$1`
	stats := &model.DripStats{DripID: dripID}
	var last sql.NullTime
	if err := r.DB.QueryRowContext(ctx, query, dripID).Scan(&stats.Sent, &stats.Recipients, &last); err != nil {
		return nil, err
	}
	if last.Valid {
		stats.LastSentAt = &last.Time
	}
	return stats, nil
}
