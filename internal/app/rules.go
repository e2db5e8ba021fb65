package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"treasury-alerts/internal/alert"
)

// ShowRules prints the configured alert rules, all statuses included.
func (a *App) ShowRules(ctx context.Context, opts RulesOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rules, err := store.ListRules(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Fprintln(os.Stdout, "no rules found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tUser\tKind\tCompany\tThreshold\tChannel\tRepeat\tCooldown\tStatus\tFired\tLast Fired")

	for _, rule := range rules {
		fmt.Fprintf(
			writer,
			"%d\t%d\t%s\t%s\t%s\t%s\t%v\t%s\t%s\t%d\t%s\n",
			rule.ID,
			rule.UserID,
			rule.Kind,
			formatCompanyID(rule.CompanyID),
			formatThreshold(rule),
			rule.Channel,
			rule.Repeating,
			formatCooldown(rule.CooldownMinutes),
			rule.Status,
			rule.TriggerCount,
			formatTimePtr(rule.LastTriggeredAt),
		)
	}

	writer.Flush()
	return nil
}

func formatCompanyID(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *id)
}

func formatThreshold(rule alert.Rule) string {
	if rule.Kind.Percentage() {
		return formatDecimalPtr(rule.ThresholdPercent) + "%"
	}
	return formatDecimalPtr(rule.Threshold)
}

func formatDecimalPtr(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

func formatCooldown(minutes int) string {
	if minutes <= 0 {
		return "-"
	}
	return (time.Duration(minutes) * time.Minute).String()
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
