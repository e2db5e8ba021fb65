package storage

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS companies (
        id                 BIGSERIAL PRIMARY KEY,
        ticker             TEXT NOT NULL UNIQUE,
        name               TEXT NOT NULL,
        currency           TEXT NOT NULL DEFAULT 'USD',
        btc_holdings       NUMERIC NOT NULL DEFAULT 0,
        prev_btc_holdings  NUMERIC,
        shares_outstanding NUMERIC NOT NULL DEFAULT 0,
        market_cap_usd     NUMERIC,
        cash_usd           NUMERIC NOT NULL DEFAULT 0,
        debt_usd           NUMERIC NOT NULL DEFAULT 0,
        preferred_usd      NUMERIC NOT NULL DEFAULT 0,
        updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,

	`CREATE TABLE IF NOT EXISTS stock_prices (
        company_id BIGINT NOT NULL REFERENCES companies(id),
        price      NUMERIC NOT NULL,
        prev_close NUMERIC,
        as_of      TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (company_id, as_of)
    );`,

	`CREATE TABLE IF NOT EXISTS fx_rates (
        currency      TEXT NOT NULL,
        rate_to_usd   NUMERIC NOT NULL,
        rate_from_usd NUMERIC NOT NULL,
        as_of         TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (currency, as_of)
    );`,

	`CREATE TABLE IF NOT EXISTS alert_rules (
        id                BIGSERIAL PRIMARY KEY,
        user_id           BIGINT NOT NULL,
        company_id        BIGINT REFERENCES companies(id),
        kind              TEXT NOT NULL,
        threshold         NUMERIC,
        threshold_percent NUMERIC,
        channel           TEXT NOT NULL,
        destination       TEXT,
        is_repeating      BOOLEAN NOT NULL DEFAULT false,
        cooldown_minutes  INTEGER,
        status            TEXT NOT NULL DEFAULT 'active',
        last_triggered_at TIMESTAMPTZ,
        trigger_count     BIGINT NOT NULL DEFAULT 0,
        label             TEXT,
        description       TEXT,
        expires_at        TIMESTAMPTZ,
        created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,

	`CREATE INDEX IF NOT EXISTS idx_alert_rules_status ON alert_rules (status);`,

	`CREATE TABLE IF NOT EXISTS alert_events (
        id                 BIGSERIAL PRIMARY KEY,
        rule_id            BIGINT NOT NULL REFERENCES alert_rules(id),
        user_id            BIGINT NOT NULL,
        company_id         BIGINT,
        kind               TEXT NOT NULL,
        threshold          NUMERIC,
        threshold_percent  NUMERIC,
        observed_value     NUMERIC NOT NULL,
        previous_value     NUMERIC,
        channel            TEXT NOT NULL,
        notification_sent  BOOLEAN NOT NULL,
        notification_error TEXT,
        context            JSONB NOT NULL DEFAULT '{}'::jsonb,
        message_title      TEXT NOT NULL,
        message_body       TEXT NOT NULL,
        triggered_at       TIMESTAMPTZ NOT NULL
    );`,

	`CREATE INDEX IF NOT EXISTS idx_alert_events_triggered_at ON alert_events (triggered_at);`,
	`CREATE INDEX IF NOT EXISTS idx_alert_events_rule_id ON alert_events (rule_id);`,
}

// EnsureSchema creates the tables the engine reads and writes. Idempotent;
// safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	for _, stmt := range schemaStatements {
		if _, execErr := pool.Exec(ctx, stmt); execErr != nil {
			return fmt.Errorf("apply schema: %w", execErr)
		}
	}
	return nil
}
