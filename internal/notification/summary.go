package notification

import (
	"fmt"
	"strings"
)

// CycleSummary is the post-cycle operator report. Optional fields
// render cleanly when zero.
type CycleSummary struct {
	Mode          string // "live" or "dry-run"
	NAV           float64
	TrackingError float64
	HarvestedLoss float64
	Planned       int // trades the builder emitted
	Executed      int // fills applied (live only)
	Failed        int
	Excluded      []string // tickers dropped for missing data
	Warnings      []string
	Err           error
}

// Alert formats the summary as one alert. A cycle error is CRITICAL,
// warnings or failed trades escalate to WARNING, otherwise INFO.
func (s CycleSummary) Alert() Alert {
	level := AlertInfo
	title := fmt.Sprintf("Rebalance cycle complete (%s)", s.Mode)
	if len(s.Warnings) > 0 || s.Failed > 0 {
		level = AlertWarning
	}
	if s.Err != nil {
		level = AlertCritical
		title = fmt.Sprintf("Rebalance cycle failed (%s)", s.Mode)
	}

	var b strings.Builder
	if s.Err != nil {
		fmt.Fprintf(&b, "error: %v\n", s.Err)
	}
	fmt.Fprintf(&b, "NAV: $%.2f\n", s.NAV)
	fmt.Fprintf(&b, "tracking error: %.6f\n", s.TrackingError)
	fmt.Fprintf(&b, "harvested loss: $%.2f\n", s.HarvestedLoss)
	fmt.Fprintf(&b, "trades: %d planned, %d executed, %d failed\n", s.Planned, s.Executed, s.Failed)
	if len(s.Excluded) > 0 {
		fmt.Fprintf(&b, "excluded (no data): %s\n", strings.Join(s.Excluded, ", "))
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}

	return Alert{Level: level, Title: title, Message: strings.TrimRight(b.String(), "\n")}
}
