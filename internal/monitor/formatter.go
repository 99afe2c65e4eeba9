package monitor

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/recd/internal/progress"
)

// FormatLatency formats latency in seconds as "X.Xms" or "X.Xs"
func FormatLatency(latencySeconds float64) string {
	if latencySeconds < 1.0 {
		return fmt.Sprintf("%.1fms", latencySeconds*1000)
	}
	return fmt.Sprintf("%.1fs", latencySeconds)
}

// FormatCounts formats unit counters as "3/8 (37%)".
func FormatCounts(completed, total, percentage int) string {
	return fmt.Sprintf("%d/%d (%d%%)", completed, total, percentage)
}

// FormatUnit describes the unit an event refers to, or "" when none.
func FormatUnit(ev progress.Event) string {
	if ev.CurrentModel == "" {
		return ""
	}
	return fmt.Sprintf("%s · %s #%d", truncate(ev.CurrentProduct, 48), ev.CurrentModel, ev.Iteration)
}

// FormatEvent renders one event as a single log line.
func FormatEvent(ev progress.Event) string {
	var b strings.Builder
	if !ev.Timestamp.IsZero() {
		b.WriteString(ev.Timestamp.Local().Format("15:04:05"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-10s %s", ev.Status, FormatCounts(ev.Completed, ev.Total, ev.Percentage))
	switch {
	case ev.Artifact != "":
		fmt.Fprintf(&b, "  %s", ev.Artifact)
	case ev.CurrentModel != "":
		fmt.Fprintf(&b, "  %s", FormatUnit(ev))
	case ev.Message != "":
		fmt.Fprintf(&b, "  %s", ev.Message)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
