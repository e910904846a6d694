// Package reconcile compares recorded sales against usage-derived sales.
package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/discrepancy"
)

// RecordedSale is a sale entered by staff. Voided sales stay stored but never
// count toward reconciliation.
type RecordedSale struct {
	ID         int64           `json:"id"`
	DayID      int64           `json:"day_id"`
	VariantID  int64           `json:"variant_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	ClientRef  string          `json:"client_ref,omitempty"`
	RecordedBy int64           `json:"recorded_by"`
	RecordedAt time.Time       `json:"recorded_at"`
	VoidedAt   *time.Time      `json:"voided_at,omitempty"`
	VoidedBy   *int64          `json:"voided_by,omitempty"`
	VoidReason string          `json:"void_reason,omitempty"`
	VoidNotes  string          `json:"void_notes,omitempty"`
}

// Voided reports whether the sale has been voided.
func (s RecordedSale) Voided() bool {
	return s.VoidedAt != nil
}

// Revenue returns quantity times the unit price captured at record time.
func (s RecordedSale) Revenue() decimal.Decimal {
	return s.Quantity.Mul(s.UnitPrice)
}

// Entry is one variant's row in the report. Missing* marks a side with no data
// rather than an explicit zero.
type Entry struct {
	VariantID         int64              `json:"variant_id"`
	VariantName       string             `json:"variant_name"`
	RecordedQty       decimal.Decimal    `json:"recorded_qty"`
	RecordedRevenue   decimal.Decimal    `json:"recorded_revenue"`
	CalculatedQty     decimal.Decimal    `json:"calculated_qty"`
	CalculatedRevenue decimal.Decimal    `json:"calculated_revenue"`
	QuantityDelta     decimal.Decimal    `json:"quantity_delta"`
	RevenueDelta      decimal.Decimal    `json:"revenue_delta"`
	MissingRecorded   bool               `json:"missing_recorded"`
	MissingCalculated bool               `json:"missing_calculated"`
	Classification    discrepancy.Result `json:"classification"`
}

// Suggestion proposes a likely-forgotten sale entry.
type Suggestion struct {
	VariantID     int64           `json:"variant_id"`
	VariantName   string          `json:"variant_name"`
	SuggestedQty  decimal.Decimal `json:"suggested_qty"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	RevenueImpact decimal.Decimal `json:"revenue_impact"`
	Reason        string          `json:"reason"`
}

// Report is the reconciliation of one day.
type Report struct {
	Entries         []Entry         `json:"entries"`
	RecordedTotal   decimal.Decimal `json:"recorded_total"`
	CalculatedTotal decimal.Decimal `json:"calculated_total"`
	// Discrepancy is CalculatedTotal minus RecordedTotal.
	Discrepancy            decimal.Decimal      `json:"discrepancy"`
	DiscrepancyPercent     decimal.Decimal      `json:"discrepancy_percent"`
	Severity               discrepancy.Severity `json:"severity"`
	HasCriticalDiscrepancy bool                 `json:"has_critical_discrepancy"`
	Suggestions            []Suggestion         `json:"suggestions"`
	VoidedExcluded         int                  `json:"voided_excluded"`
}

const (
	// SuggestionLimit caps the number of suggestions per report.
	SuggestionLimit = 5
)

// CriticalDiscrepancyPercent is the report-level alert threshold, in percent.
var CriticalDiscrepancyPercent = decimal.NewFromInt(30)
