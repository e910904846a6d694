package reconcile

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/discrepancy"
	"github.com/odyssey-erp/backoffice/internal/recipes"
)

// Reconcile outer-joins non-voided recorded sales with calculated sales per
// variant, grades each row and the day total, and proposes missing entries.
// Variants supplies display names for variants that only appear as recorded.
func Reconcile(recorded []RecordedSale, calculated []recipes.CalculatedSale, variants []recipes.Variant) Report {
	names := make(map[int64]string, len(variants))
	for _, v := range variants {
		names[v.ID] = v.DisplayName()
	}

	report := Report{
		Entries:         []Entry{},
		RecordedTotal:   decimal.Zero,
		CalculatedTotal: decimal.Zero,
		Suggestions:     []Suggestion{},
	}
	lookup := make(map[int64]*Entry)
	entry := func(variantID int64) *Entry {
		if e, ok := lookup[variantID]; ok {
			return e
		}
		e := &Entry{
			VariantID:         variantID,
			VariantName:       names[variantID],
			RecordedQty:       decimal.Zero,
			RecordedRevenue:   decimal.Zero,
			CalculatedQty:     decimal.Zero,
			CalculatedRevenue: decimal.Zero,
			MissingRecorded:   true,
			MissingCalculated: true,
		}
		lookup[variantID] = e
		return e
	}

	for _, sale := range recorded {
		if sale.Voided() {
			report.VoidedExcluded++
			continue
		}
		e := entry(sale.VariantID)
		e.MissingRecorded = false
		e.RecordedQty = e.RecordedQty.Add(sale.Quantity)
		e.RecordedRevenue = e.RecordedRevenue.Add(sale.Revenue())
	}
	prices := make(map[int64]decimal.Decimal, len(calculated))
	for _, sale := range calculated {
		e := entry(sale.VariantID)
		e.MissingCalculated = false
		if sale.VariantName != "" {
			e.VariantName = sale.VariantName
		}
		e.CalculatedQty = e.CalculatedQty.Add(sale.Quantity)
		e.CalculatedRevenue = e.CalculatedRevenue.Add(sale.Revenue)
		prices[sale.VariantID] = sale.UnitPrice
	}

	for _, e := range lookup {
		e.QuantityDelta = e.CalculatedQty.Sub(e.RecordedQty)
		e.RevenueDelta = e.CalculatedRevenue.Sub(e.RecordedRevenue)
		e.Classification = discrepancy.Classify(e.RecordedQty, e.CalculatedQty)
		report.RecordedTotal = report.RecordedTotal.Add(e.RecordedRevenue)
		report.CalculatedTotal = report.CalculatedTotal.Add(e.CalculatedRevenue)
		report.Entries = append(report.Entries, *e)
	}
	sort.Slice(report.Entries, func(i, j int) bool {
		return byRevenueImpact(report.Entries[i].RevenueDelta, report.Entries[j].RevenueDelta, report.Entries[i].VariantID, report.Entries[j].VariantID)
	})

	total := discrepancy.Classify(report.RecordedTotal, report.CalculatedTotal)
	report.Discrepancy = total.Delta
	report.DiscrepancyPercent = total.Percent
	report.Severity = total.Severity
	report.HasCriticalDiscrepancy = discrepancy.Magnitude(report.RecordedTotal, report.CalculatedTotal).GreaterThanOrEqual(CriticalDiscrepancyPercent)

	report.Suggestions = suggest(report.Entries, prices)
	return report
}

func suggest(entries []Entry, prices map[int64]decimal.Decimal) []Suggestion {
	out := []Suggestion{}
	for _, e := range entries {
		if !e.QuantityDelta.IsPositive() {
			continue
		}
		qty := e.QuantityDelta.Round(0)
		if qty.IsZero() {
			continue
		}
		out = append(out, Suggestion{
			VariantID:     e.VariantID,
			VariantName:   e.VariantName,
			SuggestedQty:  qty,
			UnitPrice:     prices[e.VariantID],
			RevenueImpact: e.RevenueDelta,
			Reason:        fmt.Sprintf("ingredient usage implies %s more units sold", qty.String()),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return byRevenueImpact(out[i].RevenueImpact, out[j].RevenueImpact, out[i].VariantID, out[j].VariantID)
	})
	if len(out) > SuggestionLimit {
		out = out[:SuggestionLimit]
	}
	return out
}

func byRevenueImpact(a, b decimal.Decimal, aID, bID int64) bool {
	if cmp := a.Abs().Cmp(b.Abs()); cmp != 0 {
		return cmp > 0
	}
	return aID < bID
}
