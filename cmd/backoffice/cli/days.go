package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/odyssey-erp/backoffice/internal/dayclose"
	"github.com/odyssey-erp/backoffice/internal/discrepancy"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// DayReader is the read side of the day lifecycle used by the days commands.
type DayReader interface {
	GetDay(ctx context.Context, date time.Time) (dayclose.DailyRecord, error)
	Preview(ctx context.Context, date time.Time) (dayclose.DaySummary, error)
}

// DaysCLI prints the state of a business day for operators.
type DaysCLI struct {
	days DayReader
}

// NewDaysCLI constructs the helper.
func NewDaysCLI(days DayReader) *DaysCLI {
	return &DaysCLI{days: days}
}

// DayStatusOptions defines available flags for the days status command.
type DayStatusOptions struct {
	Date       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// DayStatusSummary is the JSON document printed by days status.
type DayStatusSummary struct {
	Date                string               `json:"date"`
	State               dayclose.DayState    `json:"state"`
	Version             int64                `json:"version"`
	Source              string               `json:"source,omitempty"`
	RecordedTotal       string               `json:"recorded_total,omitempty"`
	CalculatedTotal     string               `json:"calculated_total,omitempty"`
	Discrepancy         string               `json:"discrepancy,omitempty"`
	Severity            discrepancy.Severity `json:"severity,omitempty"`
	CriticalIngredients []string             `json:"critical_ingredients,omitempty"`
	IncompleteCounts    int                  `json:"incomplete_counts"`
}

// StatusCommand prints the day summary. It exits 10 when the day carries a
// critical discrepancy.
func (c *DaysCLI) StatusCommand(ctx context.Context, opts DayStatusOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	date, err := shared.ParseBusinessDate(opts.Date)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "days status: invalid date %q (expected YYYY-MM-DD)\n", opts.Date)
		return 1
	}
	rec, err := c.days.GetDay(ctx, date)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "days status: %v\n", err)
		return 1
	}
	summary := DayStatusSummary{Date: date.Format(shared.DateLayout), State: rec.State, Version: rec.Version}
	critical := false
	if rec.State != dayclose.DayStateNotStarted {
		preview, err := c.days.Preview(ctx, date)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "days status: %v\n", err)
			return 1
		}
		fillSummary(&summary, preview)
		critical = preview.Reconciliation.HasCriticalDiscrepancy || len(summary.CriticalIngredients) > 0
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "days status: encode json: %v\n", err)
			return 1
		}
	} else {
		renderStatusHuman(opts.Stdout, summary)
	}
	if critical {
		return 10
	}
	return 0
}

func fillSummary(summary *DayStatusSummary, preview dayclose.DaySummary) {
	report := preview.Reconciliation
	summary.Source = string(preview.Source)
	summary.RecordedTotal = report.RecordedTotal.StringFixed(2)
	summary.CalculatedTotal = report.CalculatedTotal.StringFixed(2)
	summary.Discrepancy = report.Discrepancy.StringFixed(2)
	summary.Severity = report.Severity
	for _, row := range preview.Usage {
		if row.Incomplete() {
			summary.IncompleteCounts++
		}
	}
	for _, flag := range preview.LedgerFlags {
		if flag.Result.Severity == discrepancy.SeverityCritical {
			summary.CriticalIngredients = append(summary.CriticalIngredients, flag.IngredientName)
		}
	}
}

func renderStatusHuman(out io.Writer, s DayStatusSummary) {
	_, _ = fmt.Fprintf(out, "Business day %s: %s (version %d)\n", s.Date, s.State, s.Version)
	if s.State == dayclose.DayStateNotStarted {
		return
	}
	_, _ = fmt.Fprintf(out, "Summary source: %s\n", s.Source)
	_, _ = fmt.Fprintf(out, "Recorded %s, calculated %s, discrepancy %s (%s)\n", s.RecordedTotal, s.CalculatedTotal, s.Discrepancy, s.Severity)
	if s.IncompleteCounts > 0 {
		_, _ = fmt.Fprintf(out, "%d ingredient(s) still missing a count\n", s.IncompleteCounts)
	}
	for _, name := range s.CriticalIngredients {
		_, _ = fmt.Fprintf(out, " - %s closing count is critical\n", name)
	}
}
