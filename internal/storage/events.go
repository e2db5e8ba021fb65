package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"treasury-alerts/internal/alert"
)

const (
	insertFiringEventSQL = `INSERT INTO alert_events (
        rule_id,
        user_id,
        company_id,
        kind,
        threshold,
        threshold_percent,
        observed_value,
        previous_value,
        channel,
        notification_sent,
        notification_error,
        context,
        message_title,
        message_body,
        triggered_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    RETURNING id;`

	eventColumns = `id,
        rule_id,
        user_id,
        company_id,
        kind,
        threshold,
        threshold_percent,
        observed_value,
        previous_value,
        channel,
        notification_sent,
        notification_error,
        context,
        message_title,
        message_body,
        triggered_at`

	listRecentEventsSQL = `SELECT ` + eventColumns + `
    FROM alert_events
    ORDER BY triggered_at DESC
    LIMIT $1;`

	listEventsBetweenSQL = `SELECT ` + eventColumns + `
    FROM alert_events
    WHERE triggered_at >= $1
      AND triggered_at < $2
    ORDER BY triggered_at;`

	deleteEventsBeforeSQL = `DELETE FROM alert_events WHERE triggered_at < $1;`
)

// InsertFiringEvent appends one immutable audit row for a firing.
func (s *Store) InsertFiringEvent(ctx context.Context, event alert.FiringEvent) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var companyID interface{}
	if event.CompanyID != nil {
		companyID = *event.CompanyID
	}
	var threshold interface{}
	if event.Threshold != nil {
		threshold = event.Threshold.String()
	}
	var thresholdPct interface{}
	if event.ThresholdPercent != nil {
		thresholdPct = event.ThresholdPercent.String()
	}
	var previous interface{}
	if event.Previous != nil {
		previous = event.Previous.String()
	}
	var sendErr interface{}
	if event.SendError != nil {
		sendErr = *event.SendError
	}
	contextBlob := event.Context
	if contextBlob == nil {
		contextBlob = json.RawMessage("{}")
	}

	var id int64
	row := pool.QueryRow(ctx, insertFiringEventSQL,
		event.RuleID,
		event.UserID,
		companyID,
		string(event.Kind),
		threshold,
		thresholdPct,
		event.Observed.String(),
		previous,
		string(event.Channel),
		event.Sent,
		sendErr,
		[]byte(contextBlob),
		event.Title,
		event.Body,
		event.TriggeredAt,
	)
	if scanErr := row.Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert firing event: %w", scanErr)
	}
	return id, nil
}

// ListRecentEvents lists the most recent firings, newest first.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]alert.FiringEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	return collectEvents(rows, limit)
}

// ListEventsBetween lists firings within a time window, oldest first.
func (s *Store) ListEventsBetween(ctx context.Context, from, to time.Time) ([]alert.FiringEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEventsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list events between: %w", queryErr)
	}
	defer rows.Close()

	return collectEvents(rows, 0)
}

// DeleteEventsBefore prunes historical events.
func (s *Store) DeleteEventsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteEventsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete events before: %w", execErr)
	}
	return nil
}

func collectEvents(rows pgx.Rows, sizeHint int) ([]alert.FiringEvent, error) {
	events := make([]alert.FiringEvent, 0, sizeHint)
	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func scanEvent(rows pgx.Rows) (alert.FiringEvent, error) {
	var (
		event        alert.FiringEvent
		companyID    sql.NullInt64
		kind         string
		threshold    sql.NullString
		thresholdPct sql.NullString
		observed     string
		previous     sql.NullString
		channel      string
		sendErr      sql.NullString
		contextBlob  []byte
	)

	if err := rows.Scan(
		&event.ID,
		&event.RuleID,
		&event.UserID,
		&companyID,
		&kind,
		&threshold,
		&thresholdPct,
		&observed,
		&previous,
		&channel,
		&event.Sent,
		&sendErr,
		&contextBlob,
		&event.Title,
		&event.Body,
		&event.TriggeredAt,
	); err != nil {
		return alert.FiringEvent{}, err
	}

	event.Kind = alert.Kind(kind)
	event.Channel = alert.Channel(channel)
	event.Context = json.RawMessage(contextBlob)

	if companyID.Valid {
		id := companyID.Int64
		event.CompanyID = &id
	}
	if sendErr.Valid {
		msg := sendErr.String
		event.SendError = &msg
	}

	var err error
	if event.Threshold, err = parseNullDecimal(threshold, "threshold"); err != nil {
		return alert.FiringEvent{}, err
	}
	if event.ThresholdPercent, err = parseNullDecimal(thresholdPct, "threshold_percent"); err != nil {
		return alert.FiringEvent{}, err
	}
	if event.Previous, err = parseNullDecimal(previous, "previous_value"); err != nil {
		return alert.FiringEvent{}, err
	}

	observedDec, err := parseNullDecimal(sql.NullString{String: observed, Valid: true}, "observed_value")
	if err != nil {
		return alert.FiringEvent{}, err
	}
	event.Observed = *observedDec

	return event, nil
}
