package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// ShowEvents prints recent firing events, newest first.
func (a *App) ShowEvents(ctx context.Context, opts EventsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	events, err := store.ListRecentEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no firing events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRule\tKind\tObserved\tSent\tError\tTitle")

	for _, event := range events {
		errMsg := ""
		if event.SendError != nil {
			errMsg = sanitizeInline(*event.SendError)
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%v\t%s\t%s\n",
			event.TriggeredAt.UTC().Format(time.RFC3339),
			event.RuleID,
			event.Kind,
			event.Observed.String(),
			event.Sent,
			errMsg,
			sanitizeInline(event.Title),
		)
	}

	writer.Flush()
	return nil
}
