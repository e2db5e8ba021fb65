package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"treasury-alerts/internal/alert"
)

const (
	listActiveRulesSQL = `SELECT
        id,
        user_id,
        company_id,
        kind,
        threshold,
        threshold_percent,
        channel,
        destination,
        is_repeating,
        cooldown_minutes,
        status,
        last_triggered_at,
        trigger_count,
        label,
        description,
        expires_at,
        created_at
    FROM alert_rules
    WHERE status = 'active'
    ORDER BY id;`

	updateRuleAfterFiringSQL = `UPDATE alert_rules
    SET last_triggered_at = $2,
        trigger_count     = trigger_count + 1,
        status            = $3
    WHERE id = $1;`

	expireRulesSQL = `UPDATE alert_rules
    SET status = 'expired'
    WHERE status = 'active'
      AND expires_at IS NOT NULL
      AND expires_at <= $1;`

	listRulesSQL = `SELECT
        id,
        user_id,
        company_id,
        kind,
        threshold,
        threshold_percent,
        channel,
        destination,
        is_repeating,
        cooldown_minutes,
        status,
        last_triggered_at,
        trigger_count,
        label,
        description,
        expires_at,
        created_at
    FROM alert_rules
    ORDER BY id
    LIMIT $1;`
)

// ListActiveRules loads every rule eligible for evaluation. Paused,
// triggered, and expired rules are filtered at the query, which is the
// engine's status pre-filter.
func (s *Store) ListActiveRules(ctx context.Context) ([]alert.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveRulesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]alert.Rule, 0)
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// UpdateRuleAfterFiring advances the rule's trigger statistics and status.
// Always called after the firing event insert so a crash between the two
// leaves the rule eligible to re-fire rather than losing history.
func (s *Store) UpdateRuleAfterFiring(ctx context.Context, ruleID int64, firedAt time.Time, status alert.Status) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, updateRuleAfterFiringSQL, ruleID, firedAt, string(status))
	if execErr != nil {
		return fmt.Errorf("update rule after firing: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ExpireRules flips past-deadline active rules to expired. Returns the
// number of rules transitioned.
func (s *Store) ExpireRules(ctx context.Context, now time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	cmdTag, execErr := pool.Exec(ctx, expireRulesSQL, now)
	if execErr != nil {
		return 0, fmt.Errorf("expire rules: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// ListRules loads rules of every status for operator inspection.
func (s *Store) ListRules(ctx context.Context, limit int) ([]alert.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRulesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]alert.Rule, 0, limit)
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

func scanRule(rows pgx.Rows) (alert.Rule, error) {
	var (
		rule          alert.Rule
		kind          string
		channel       string
		status        string
		companyID     sql.NullInt64
		threshold     sql.NullString
		thresholdPct  sql.NullString
		destination   sql.NullString
		cooldown      sql.NullInt64
		lastTriggered sql.NullTime
		label         sql.NullString
		description   sql.NullString
		expiresAt     sql.NullTime
	)

	if err := rows.Scan(
		&rule.ID,
		&rule.UserID,
		&companyID,
		&kind,
		&threshold,
		&thresholdPct,
		&channel,
		&destination,
		&rule.Repeating,
		&cooldown,
		&status,
		&lastTriggered,
		&rule.TriggerCount,
		&label,
		&description,
		&expiresAt,
		&rule.CreatedAt,
	); err != nil {
		return alert.Rule{}, err
	}

	rule.Kind = alert.Kind(kind)
	rule.Channel = alert.Channel(channel)
	rule.Status = alert.Status(status)
	rule.Destination = destination.String
	rule.Label = label.String
	rule.Description = description.String

	if companyID.Valid {
		id := companyID.Int64
		rule.CompanyID = &id
	}
	if cooldown.Valid {
		rule.CooldownMinutes = int(cooldown.Int64)
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		rule.LastTriggeredAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		rule.ExpiresAt = &t
	}

	var err error
	if rule.Threshold, err = parseNullDecimal(threshold, "threshold"); err != nil {
		return alert.Rule{}, err
	}
	if rule.ThresholdPercent, err = parseNullDecimal(thresholdPct, "threshold_percent"); err != nil {
		return alert.Rule{}, err
	}

	return rule, nil
}

func parseDecimal(v, column string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", column, err)
	}
	return d, nil
}

func parseNullDecimal(v sql.NullString, column string) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", column, err)
	}
	return &d, nil
}
