package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/opscart/personalize-monitor/pkg/models"
)

// ReportFormat represents the output format
type ReportFormat string

const (
	FormatText ReportFormat = "text"
	FormatJSON ReportFormat = "json"
	FormatCSV  ReportFormat = "csv"
)

// ParseFormat validates a format name
func ParseFormat(s string) (ReportFormat, error) {
	switch f := ReportFormat(s); f {
	case FormatText, FormatJSON, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("unknown report format %q (want text, json or csv)", s)
}

// KindStats holds per resource kind counts of a pass
type KindStats struct {
	Kind      models.ResourceKind
	Resources int
	Actions   int
	Errors    int
}

// Reporter renders pass reports
type Reporter struct {
	format ReportFormat
}

// New creates a new reporter
func New(format ReportFormat) *Reporter {
	return &Reporter{format: format}
}

// Write renders report to w in the reporter's format
func (r *Reporter) Write(w io.Writer, report *models.PassReport) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case FormatCSV:
		return GenerateCSV(report, w)
	default:
		return GenerateText(report, w)
	}
}

// Stats groups the results of a pass by resource kind
func Stats(report *models.PassReport) []*KindStats {
	byKind := make(map[models.ResourceKind]*KindStats)
	for _, res := range report.Results {
		stat, ok := byKind[res.Kind]
		if !ok {
			stat = &KindStats{Kind: res.Kind}
			byKind[res.Kind] = stat
		}
		stat.Resources++
		if res.Decision.Actionable() {
			stat.Actions++
		}
		if res.Err != nil || res.Error != "" {
			stat.Errors++
		}
	}

	stats := make([]*KindStats, 0, len(byKind))
	for _, s := range byKind {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Kind < stats[j].Kind })
	return stats
}

// GenerateText writes a human readable summary
func GenerateText(report *models.PassReport, w io.Writer) error {
	p := &printer{w: w}

	p.printf("Pass %s (%s)\n", report.ID, report.Duration().Round(time.Millisecond))
	p.printf("  Regions:             %v\n", report.Regions)
	p.printf("  Resources:           %d discovered, %d evaluated\n", report.ResourcesDiscovered, report.ResourcesEvaluated)
	p.printf("  Decisions:           %d lower min rate, %d mark idle, %d no action\n",
		report.Decisions[models.LowerMinRate], report.Decisions[models.MarkIdle], report.Decisions[models.NoAction])
	p.printf("  Alarms created:      %d\n", report.AlarmsCreated)
	p.printf("  Events published:    %d\n", report.EventsPublished)
	if report.DashboardRebuild {
		p.printf("  Dashboard rebuild:   requested\n")
	}

	if total := report.ErrorTotal(); total > 0 {
		p.printf("  Errors:              %d\n", total)
		kinds := make([]string, 0, len(report.ErrorCounts))
		for k := range report.ErrorCounts {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			p.printf("    %-22s %d\n", k, report.ErrorCounts[models.ErrorKind(k)])
		}
	}

	if len(report.Results) == 0 {
		p.printf("\nNo resources monitored\n")
		return p.err
	}

	p.printf("\n")
	for i, res := range report.Results {
		p.printf("%d. %s (%s, %s)\n", i+1, res.Name, res.Kind, res.Region)
		if res.Error != "" {
			p.printf("   Error: [%s] %s\n", res.ErrorKind, res.Error)
		}
		if d := res.Decision; d != nil {
			p.printf("   Decision: %s", d.Type)
			if d.Type == models.LowerMinRate {
				p.printf(" (new rate %d)", d.NewRate)
			}
			p.printf("\n   Reason: %s\n", d.Reason)
			if s := d.Summary; s != nil {
				p.printf("   Rate: avg %.2f, min %.2f, p95 %.2f, max %.2f; utilization %s\n",
					s.AverageRate, s.MinAverageRate, s.P95Rate, s.MaxAverageRate, formatUtilization(s.Utilization()))
			}
		}
		if res.AlarmsCreated > 0 {
			p.printf("   Alarms created: %d\n", res.AlarmsCreated)
		}
		p.printf("\n")
	}
	return p.err
}

// GenerateHistory writes stored decisions, newest first
func GenerateHistory(records []*models.DecisionRecord, w io.Writer) error {
	p := &printer{w: w}
	if len(records) == 0 {
		p.printf("No decisions found\n")
		return p.err
	}
	for i, rec := range records {
		p.printf("%d. %s (ID: %s)\n", i+1, rec.ResourceARN, rec.ID)
		p.printf("   Type: %s\n", rec.Type)
		if rec.Type == models.LowerMinRate {
			p.printf("   Rate: %d -> %d\n", rec.CurrentMinRate, rec.NewRate)
		}
		p.printf("   Utilization: %s\n", formatUtilization(rec.Utilization))
		p.printf("   Event published: %t\n", rec.EventPublished)
		p.printf("   Created: %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
		p.printf("\n")
	}
	return p.err
}

func formatUtilization(u *float64) string {
	if u == nil {
		return "undefined"
	}
	return fmt.Sprintf("%.1f%%", *u)
}

// printer keeps the first write error so callers can check once
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
