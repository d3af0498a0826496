package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"warden/internal/storage"
)

type AuditSource interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
}

type Service struct {
	store AuditSource
}

func New(store AuditSource) *Service {
	return &Service{store: store}
}

type Report struct {
	Since   time.Time
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{Since: since, ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	return report, nil
}

// Format renders the report as embed description text, busiest events first.
func (r Report) Format() string {
	if r.Total == 0 {
		return "No audit events in this period."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%d** events since <t:%d:R>\n", r.Total, r.Since.Unix())
	fmt.Fprintf(&b, "INFO %d | WARN %d | CRIT %d\n", r.ByLevel["INFO"], r.ByLevel["WARN"], r.ByLevel["CRIT"])

	events := make([]string, 0, len(r.ByEvent))
	for event := range r.ByEvent {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		if r.ByEvent[events[i]] != r.ByEvent[events[j]] {
			return r.ByEvent[events[i]] > r.ByEvent[events[j]]
		}
		return events[i] < events[j]
	})
	for _, event := range events {
		fmt.Fprintf(&b, "`%s` %d\n", event, r.ByEvent[event])
	}
	return strings.TrimRight(b.String(), "\n")
}

// PeriodStart maps a /modstats period choice to the start of the window.
func PeriodStart(period string, now time.Time) (time.Time, error) {
	switch period {
	case "", "day":
		return now.Add(-24 * time.Hour), nil
	case "week":
		return now.Add(-7 * 24 * time.Hour), nil
	case "month":
		return now.Add(-30 * 24 * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unknown period %q", period)
	}
}
