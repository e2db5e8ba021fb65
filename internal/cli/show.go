package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"treasury-alerts/internal/app"
)

var (
	rulesLimit  int
	eventsLimit int
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Display configured alert rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rulesLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().ShowRules(cmd.Context(), app.RulesOptions{Limit: rulesLimit})
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Display recent firing events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().ShowEvents(cmd.Context(), app.EventsOptions{Limit: eventsLimit})
	},
}

func init() {
	rulesCmd.Flags().IntVar(&rulesLimit, "limit", 50, "Number of rules to display")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 20, "Number of events to display")
}
