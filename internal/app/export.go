package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"treasury-alerts/internal/alert"
)

// Export writes firing-event history as CSV and/or a PNG chart of observed
// values grouped by rule kind.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	events, err := store.ListEventsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		a.Logger.Info().Msg("no firing events in export window")
		return nil
	}

	downsampled := downsampleEvents(events, opts.MaxPoints)
	a.Logger.Info().Int("total", len(events)).Int("exported", len(downsampled)).Msg("exporting firing events")

	if opts.CSVPath != "" {
		if err := writeEventsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := a.writeEventsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleEvents(events []alert.FiringEvent, max int) []alert.FiringEvent {
	if max <= 0 || len(events) <= max {
		return events
	}

	result := make([]alert.FiringEvent, 0, max)
	step := float64(len(events)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(events) {
			idx = len(events) - 1
		}
		result = append(result, events[idx])
	}
	return result
}

func writeEventsCSV(path string, events []alert.FiringEvent) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"triggered_at", "rule_id", "user_id", "kind", "observed", "previous", "channel", "sent", "send_error", "title"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, event := range events {
		previous := ""
		if event.Previous != nil {
			previous = event.Previous.String()
		}
		sendErr := ""
		if event.SendError != nil {
			sendErr = *event.SendError
		}
		record := []string{
			event.TriggeredAt.UTC().Format(time.RFC3339),
			formatInt64(event.RuleID),
			formatInt64(event.UserID),
			string(event.Kind),
			event.Observed.String(),
			previous,
			string(event.Channel),
			formatBool(event.Sent),
			sendErr,
			event.Title,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeEventsPNG plots observed values over time, one series per rule kind.
// Kinds with fewer than two firings in the window cannot form a line and
// are dropped from the chart.
func (a *App) writeEventsPNG(path string, events []alert.FiringEvent) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	byKind := make(map[alert.Kind][]alert.FiringEvent)
	for _, event := range events {
		byKind[event.Kind] = append(byKind[event.Kind], event)
	}

	kinds := make([]alert.Kind, 0, len(byKind))
	for kind, group := range byKind {
		if len(group) >= 2 {
			kinds = append(kinds, kind)
		}
	}
	if len(kinds) == 0 {
		a.Logger.Warn().Msg("no kind has enough firings to chart; skipping png")
		return nil
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	series := make([]chart.Series, 0, len(kinds))
	for _, kind := range kinds {
		group := byKind[kind]
		x := make([]time.Time, len(group))
		y := make([]float64, len(group))
		for i, event := range group {
			x[i] = event.TriggeredAt
			y[i] = event.Observed.InexactFloat64()
		}
		series = append(series, chart.TimeSeries{
			Name:    string(kind),
			XValues: x,
			YValues: y,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Observed value",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatInt64(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatBool(v bool) string {
	return strconv.FormatBool(v)
}
