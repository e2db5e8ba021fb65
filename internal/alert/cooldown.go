package alert

import "time"

// Suppressed reports whether a rule that would otherwise fire is inside its
// cooldown window. A rule that never fired, or that carries no cooldown,
// is never suppressed. The boundary is exclusive: at exactly
// lastTriggeredAt + cooldown the rule is eligible again.
func Suppressed(lastTriggeredAt *time.Time, cooldownMinutes int, now time.Time) bool {
	if lastTriggeredAt == nil || cooldownMinutes <= 0 {
		return false
	}
	return now.Sub(*lastTriggeredAt) < time.Duration(cooldownMinutes)*time.Minute
}
