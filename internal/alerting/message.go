package alerting

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/engine"
	"github.com/m2rcus/hypemonitoring/internal/stats"
)

const (
	timeLayout = "2006-01-02 15:04:05 MST"
	testPhrase = "This is a test voice message from the HYPE price monitor. Your voice alert system is working correctly."
)

var dec100 = decimal.NewFromInt(100)

func percent(p decimal.Decimal) string {
	return p.Mul(dec100).StringFixed(1) + "%"
}

// TrendLabel renders a trend for people, e.g. "Down (57%)".
func TrendLabel(t stats.Trend, strength decimal.Decimal) string {
	label := strings.ToUpper(t.String()[:1]) + t.String()[1:]
	if t == stats.TrendFlat {
		return label
	}
	return fmt.Sprintf("%s (%s)", label, percent(strength))
}

// TrendEmoji picks the arrow shown next to a trend.
func TrendEmoji(t stats.Trend) string {
	switch t {
	case stats.TrendUp:
		return "📈"
	case stats.TrendDown:
		return "📉"
	default:
		return "➡️"
	}
}

// ReasonLabel renders a reason for people, e.g. "Near Stddev Band".
func ReasonLabel(r classify.Reason) string {
	words := strings.Split(string(r), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func renderAlert(note Notification) string {
	var b strings.Builder
	if note.Tier == classify.TierCritical {
		b.WriteString("🚨🚨🚨 <b>CRITICAL ALERT!</b> 🚨🚨🚨\n\n")
	} else {
		fmt.Fprintf(&b, "🚨 <b>%s PRICE ALERT!</b> 🚨\n\n", html.EscapeString(note.Asset))
	}

	fmt.Fprintf(&b, "💰 <b>Current Price:</b> $%s\n", note.Price.StringFixed(2))
	fmt.Fprintf(&b, "🎯 <b>Target Price:</b> $%s\n", note.TargetPrice.StringFixed(2))
	fmt.Fprintf(&b, "📊 <b>Drop Probability:</b> %s\n", percent(note.Probability))
	fmt.Fprintf(&b, "%s <b>Trend:</b> %s\n", TrendEmoji(note.Trend), TrendLabel(note.Trend, note.TrendStrength))
	fmt.Fprintf(&b, "🔎 <b>Reason:</b> %s\n\n", ReasonLabel(note.Reason))

	if note.Tier == classify.TierCritical {
		b.WriteString("⚠️ <b>CRITICAL:</b> IMMEDIATE ACTION REQUIRED!\n\n")
	} else {
		b.WriteString("⚠️ <b>URGENT:</b> Check your trading platform now!\n\n")
	}

	fmt.Fprintf(&b, "⏰ <b>Time:</b> %s", note.DecidedAt.UTC().Format(timeLayout))
	return b.String()
}

func renderVoiceScript(note Notification) string {
	prefix, suffix := "Alert! ", " Please check your trading platform immediately."
	if note.Tier == classify.TierCritical {
		prefix, suffix = "Critical alert! ", " Immediate action required!"
	}
	return fmt.Sprintf("%sHyperliquid %s price alert. Current price is %s dollars. Target price is %s dollars. Drop probability is %s percent. Trend is %s.%s",
		prefix,
		note.Asset,
		note.Price.StringFixed(2),
		note.TargetPrice.StringFixed(2),
		note.Probability.Mul(dec100).StringFixed(1),
		note.Trend.String(),
		suffix,
	)
}

// RenderStatus formats an inspection report as an HTML status message.
func RenderStatus(asset string, r engine.Report, now time.Time) string {
	var b strings.Builder

	if r.Status != engine.StatusEvaluated {
		fmt.Fprintf(&b, "⏳ <b>%s Price Status</b>\n\n", html.EscapeString(asset))
		fmt.Fprintf(&b, "Collecting data: %d sample(s) so far, statistics need at least %d.\n", r.Samples, stats.MinSamples)
		if r.Samples > 0 {
			fmt.Fprintf(&b, "💰 <b>Last Price:</b> $%s\n", decimal.NewFromFloat(r.Evidence.Price).StringFixed(2))
		}
		fmt.Fprintf(&b, "\n⏰ <b>Updated:</b> %s", now.UTC().Format(timeLayout))
		return b.String()
	}

	snap := r.Evidence.Snapshot
	strength := decimal.NewFromFloat(snap.TrendStrength)
	alertEmoji := "✅"
	if r.Tier != classify.TierNone {
		alertEmoji = "🚨"
	}

	fmt.Fprintf(&b, "%s <b>%s Price Status</b>\n\n", alertEmoji, html.EscapeString(asset))
	fmt.Fprintf(&b, "💰 <b>Current Price:</b> $%s\n", decimal.NewFromFloat(r.Evidence.Price).StringFixed(2))
	fmt.Fprintf(&b, "%s <b>Trend:</b> %s\n", TrendEmoji(snap.Trend), TrendLabel(snap.Trend, strength))
	fmt.Fprintf(&b, "🎯 <b>Target Price:</b> $%s\n", decimal.NewFromFloat(r.Thresholds.TargetPrice).StringFixed(2))
	fmt.Fprintf(&b, "📊 <b>Drop Probability:</b> %s\n\n", percent(decimal.NewFromFloat(r.Evidence.Probability)))

	b.WriteString("📊 <b>Statistics:</b>\n")
	fmt.Fprintf(&b, "• Mean Price: $%s\n", decimal.NewFromFloat(snap.Mean).StringFixed(2))
	fmt.Fprintf(&b, "• Std Deviation: $%s\n", decimal.NewFromFloat(snap.StdDev).StringFixed(2))
	fmt.Fprintf(&b, "• Price Range: $%s - $%s\n", decimal.NewFromFloat(snap.Min).StringFixed(2), decimal.NewFromFloat(snap.Max).StringFixed(2))
	fmt.Fprintf(&b, "• Samples: %d\n", r.Samples)

	if r.Tier != classify.TierNone {
		fmt.Fprintf(&b, "\n🚨 <b>%s:</b> %s\n", strings.ToUpper(r.Tier.String()), ReasonLabel(r.Reason))
	}

	fmt.Fprintf(&b, "\n⏰ <b>Updated:</b> %s", now.UTC().Format(timeLayout))
	return b.String()
}

func renderError(cycleErr error) string {
	return fmt.Sprintf("⚠️ <b>Monitoring error</b>\n<code>%s</code>", html.EscapeString(cycleErr.Error()))
}

func renderRecovery(failures int) string {
	return fmt.Sprintf("✅ <b>Monitoring recovered</b> after %d consecutive failure(s)", failures)
}
