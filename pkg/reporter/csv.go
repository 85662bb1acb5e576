package reporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/opscart/personalize-monitor/pkg/models"
)

// GenerateCSV creates a CSV report with one row per resource followed by a summary
func GenerateCSV(report *models.PassReport, writer io.Writer) error {
	w := csv.NewWriter(writer)

	header := []string{
		"ARN",
		"Name",
		"Kind",
		"Region",
		"Decision",
		"Current Min Rate",
		"New Rate",
		"Average Rate",
		"Min Average Rate",
		"Max Average Rate",
		"P95 Rate",
		"Utilization (%)",
		"Alarms Created",
		"Event Published",
		"Error Kind",
		"Reason",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, res := range report.Results {
		row := []string{res.ARN, res.Name, string(res.Kind), res.Region, "", "", "", "", "", "", "", "",
			strconv.Itoa(res.AlarmsCreated), strconv.FormatBool(res.EventPublished), string(res.ErrorKind), res.Error}
		if d := res.Decision; d != nil {
			row[4] = string(d.Type)
			if d.Resource != nil {
				row[5] = strconv.Itoa(d.Resource.CurrentMinRate)
			}
			if d.Type == models.LowerMinRate {
				row[6] = strconv.Itoa(d.NewRate)
			}
			if s := d.Summary; s != nil {
				row[7] = fmt.Sprintf("%.3f", s.AverageRate)
				row[8] = fmt.Sprintf("%.3f", s.MinAverageRate)
				row[9] = fmt.Sprintf("%.3f", s.MaxAverageRate)
				row[10] = fmt.Sprintf("%.3f", s.P95Rate)
				if u := s.Utilization(); u != nil {
					row[11] = fmt.Sprintf("%.1f", *u)
				}
			}
			if res.Error == "" {
				row[15] = d.Reason
			}
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	summary := [][]string{
		{},
		{"SUMMARY"},
		{"Pass", report.ID},
		{"Resources Discovered", strconv.Itoa(report.ResourcesDiscovered)},
		{"Resources Evaluated", strconv.Itoa(report.ResourcesEvaluated)},
		{"Alarms Created", strconv.Itoa(report.AlarmsCreated)},
		{"Events Published", strconv.Itoa(report.EventsPublished)},
		{},
		{"KIND BREAKDOWN"},
		{"Kind", "Resources", "Actions", "Errors"},
	}
	for _, s := range Stats(report) {
		summary = append(summary, []string{string(s.Kind), strconv.Itoa(s.Resources), strconv.Itoa(s.Actions), strconv.Itoa(s.Errors)})
	}
	if err := w.WriteAll(summary); err != nil {
		return fmt.Errorf("failed to write CSV summary: %w", err)
	}
	return nil
}
