package dayclose

import (
	"time"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/internal/recipes"
)

// DayInputs is everything a summary is derived from.
type DayInputs struct {
	Ingredients []ledger.Ingredient
	Variants    []recipes.Variant
	Recipes     []recipes.Recipe
	Movements   []ledger.Movement
	Sales       []reconcile.RecordedSale
}

// BuildSummary derives usage, ledger flags, calculated sales and the
// reconciliation report from a fixed set of inputs. It has no side effects.
func BuildSummary(date time.Time, in DayInputs, source SummarySource, at time.Time) (DaySummary, error) {
	rows, err := ledger.ComputeLedger(in.Ingredients, in.Movements)
	if err != nil {
		return DaySummary{}, err
	}
	calculated := recipes.BuildCalculatedSales(in.Variants, in.Recipes, rows)
	return DaySummary{
		Date:            date,
		Source:          source,
		Usage:           rows,
		LedgerFlags:     ledger.ClassifyRows(rows),
		CalculatedSales: calculated,
		Reconciliation:  reconcile.Reconcile(in.Sales, calculated.Sales, in.Variants),
		ComputedAt:      at,
	}, nil
}
