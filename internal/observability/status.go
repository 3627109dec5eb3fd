package observability

import (
	"fmt"
	"time"
)

// Stats is a point-in-time view of an engine, reported by heartbeats and the
// status line.
type Stats struct {
	ActivePlans          int       `json:"active_plans"`
	RunningPlans         int       `json:"running_plans"`
	WaitingConfirmations int       `json:"waiting_confirmations"`
	InFlightActions      int       `json:"in_flight_actions"`
	StartedAt            time.Time `json:"started_at"`
}

// StatsSource is implemented by anything that can report Stats.
type StatsSource interface {
	Stats() Stats
}

// StatusLine renders stats for the terminal.
func StatusLine(s Stats) string {
	uptime := time.Duration(0)
	if !s.StartedAt.IsZero() {
		uptime = time.Since(s.StartedAt).Round(time.Second)
	}
	return fmt.Sprintf("[ STATUS ] plans=%d running=%d awaiting=%d in-flight=%d uptime=%s",
		s.ActivePlans, s.RunningPlans, s.WaitingConfirmations, s.InFlightActions, uptime)
}
