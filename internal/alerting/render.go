package alerting

import (
	"fmt"
	"strings"

	"treasury-alerts/internal/alert"
)

// Message is a rendered notification ready for one channel.
type Message struct {
	Title string
	Body  string
}

// Event is the rendering context for one firing.
type Event struct {
	Rule     alert.Rule
	Decision alert.Decision
	Ticker   string                // empty for global rules
	OnChain  *alert.OnChainMetrics // set for digest rules
}

// Render produces the channel-appropriate message for a firing. Output is
// deterministic for identical inputs and always carries the rule kind, the
// observed value, and the threshold (the digest carries the full metric
// summary instead).
func Render(ev Event, channel alert.Channel) Message {
	if ev.Rule.Kind == alert.KindOnChainDigest {
		return renderDigest(ev, channel)
	}

	subject := ev.Decision.Label
	if ev.Ticker != "" {
		subject = fmt.Sprintf("%s %s", ev.Ticker, ev.Decision.Label)
	}

	title := fmt.Sprintf("Alert: %s (%s)", subject, ev.Rule.Kind)

	var b strings.Builder
	writeLine(&b, channel, "Rule", describeRule(ev.Rule))
	writeLine(&b, channel, "Observed", ev.Decision.Observed.String())
	if ev.Decision.Previous != nil {
		writeLine(&b, channel, "Previous", ev.Decision.Previous.String())
	}
	if threshold := thresholdText(ev.Rule); threshold != "" {
		writeLine(&b, channel, "Threshold", threshold)
	}
	if ev.Rule.Label != "" {
		writeLine(&b, channel, "Label", ev.Rule.Label)
	}

	return Message{Title: title, Body: strings.TrimRight(b.String(), "\n")}
}

func renderDigest(ev Event, channel alert.Channel) Message {
	title := fmt.Sprintf("Daily on-chain digest (%s)", ev.Rule.Kind)

	var b strings.Builder
	if ev.OnChain != nil {
		writeLine(&b, channel, "BTC price", "$"+ev.OnChain.BTCPriceUSD.String())
		writeLine(&b, channel, "Fear & Greed", ev.OnChain.FearGreed.String())
		writeLine(&b, channel, "MVRV Z-score", ev.OnChain.MVRVZScore.String())
		writeLine(&b, channel, "NUPL", ev.OnChain.NUPL.String())
		writeLine(&b, channel, "Funding rate", ev.OnChain.FundingRate.String())
		writeLine(&b, channel, "200WMA premium", ev.OnChain.Premium200WMA.String()+"%")
	}

	return Message{Title: title, Body: strings.TrimRight(b.String(), "\n")}
}

func describeRule(rule alert.Rule) string {
	if threshold := thresholdText(rule); threshold != "" {
		return fmt.Sprintf("%s %s", rule.Kind, threshold)
	}
	return string(rule.Kind)
}

func thresholdText(rule alert.Rule) string {
	if rule.Kind.Percentage() {
		if rule.ThresholdPercent != nil {
			return rule.ThresholdPercent.String() + "%"
		}
		return ""
	}
	if rule.Threshold != nil {
		return rule.Threshold.String()
	}
	return ""
}

// writeLine emits "key: value" with channel-dialect emphasis on the key:
// HTML bold for Telegram, mrkdwn for Slack, plain text otherwise.
func writeLine(b *strings.Builder, channel alert.Channel, key, value string) {
	switch channel {
	case alert.ChannelTelegram:
		fmt.Fprintf(b, "<b>%s:</b> %s\n", key, value)
	case alert.ChannelSlack:
		fmt.Fprintf(b, "*%s:* %s\n", key, value)
	default:
		fmt.Fprintf(b, "%s: %s\n", key, value)
	}
}
