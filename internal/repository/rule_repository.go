package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unclebandit/drip-service/internal/model"
)

type RuleRepositoryInterface interface {
	ListByDrip(ctx context.Context, dripID int64) ([]model.Rule, error)
	ReplaceForDrip(ctx context.Context, dripID int64, rules []model.Rule) error
}

var _ RuleRepositoryInterface = (*RuleRepository)(nil)

type RuleRepository struct {
	DB *sql.DB
}

// ListByDrip returns the drip's rules in authored order.
func (r *RuleRepository) ListByDrip(ctx context.Context, dripID int64) ([]model.Rule, error) {
	query := `
		SELECT id, drip_id, kind, method_type, field_name, annotate, lookup_type, field_value,
			app_name, model_name, user_field, position, created_at, updated_at
		FROM drip_rules
		WHERE drip_id=$1
		ORDER BY position, id
	`
	rows, err := r.DB.QueryContext(ctx, query, dripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []model.Rule{}
	for rows.Next() {
		var rule model.Rule
		if err := rows.Scan(
			&rule.ID, &rule.DripID, &rule.Kind, &rule.MethodType, &rule.FieldName, &rule.Aggregation,
			&rule.LookupType, &rule.FieldValue, &rule.ForeignNamespace, &rule.ForeignEntity,
			&rule.UserField, &rule.Position, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ReplaceForDrip swaps the drip's rules for the given ones in a single
// transaction. Positions follow slice order.
func (r *RuleRepository) ReplaceForDrip(ctx context.Context, dripID int64, rules []model.Rule) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM drip_rules WHERE drip_id=$1`, dripID); err != nil {
		return fmt.Errorf("clear rules of drip %d: %w", dripID, err)
	}

	query := `
		INSERT INTO drip_rules (drip_id, kind, method_type, field_name, annotate, lookup_type, field_value,
			app_name, model_name, user_field, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id
	`
	now := time.Now()
	for i := range rules {
		rule := &rules[i]
		rule.DripID = dripID
		rule.Position = i
		rule.CreatedAt, rule.UpdatedAt = now, now
		if err := tx.QueryRowContext(ctx, query,
			dripID, rule.Kind, rule.MethodType, rule.FieldName, rule.Aggregation, rule.LookupType,
			rule.FieldValue, rule.ForeignNamespace, rule.ForeignEntity, rule.UserField, rule.Position, now,
		).Scan(&rule.ID); err != nil {
			return fmt.Errorf("insert rule %d of drip %d: %w", i, dripID, err)
		}
	}
	return tx.Commit()
}
