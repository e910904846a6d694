package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/discrepancy"
)

// ComputeUsage folds the day's movements for one ingredient into a UsageRow.
// Movements for other ingredients and voided movements are ignored.
func ComputeUsage(ingredient Ingredient, movements []Movement) (UsageRow, error) {
	row := UsageRow{
		IngredientID:   ingredient.ID,
		IngredientName: ingredient.Name,
		Unit:           ingredient.Unit,
		Deliveries:     decimal.Zero,
		Transfers:      decimal.Zero,
		Spoilage:       decimal.Zero,
	}
	for _, mv := range movements {
		if mv.IngredientID != ingredient.ID || mv.Voided() {
			continue
		}
		switch mv.Type {
		case MovementOpening:
			if row.Opening.Valid {
				return UsageRow{}, fmt.Errorf("%w: opening for %s", ErrDuplicateSnapshot, ingredient.Name)
			}
			row.Opening = decimal.NewNullDecimal(mv.Quantity)
		case MovementClosing:
			if row.Closing.Valid {
				return UsageRow{}, fmt.Errorf("%w: closing for %s", ErrDuplicateSnapshot, ingredient.Name)
			}
			row.Closing = decimal.NewNullDecimal(mv.Quantity)
		case MovementDelivery:
			row.Deliveries = row.Deliveries.Add(mv.Quantity)
		case MovementTransfer:
			if mv.Destination == LocationActive {
				row.Transfers = row.Transfers.Add(mv.Quantity)
			}
		case MovementSpoilage:
			row.Spoilage = row.Spoilage.Add(mv.Quantity)
		}
	}
	if row.Opening.Valid {
		expected := row.Opening.Decimal.Add(row.Deliveries).Add(row.Transfers).Sub(row.Spoilage)
		row.ExpectedClosing = decimal.NewNullDecimal(expected)
		if row.Closing.Valid {
			row.Usage = decimal.NewNullDecimal(expected.Sub(row.Closing.Decimal))
		}
	}
	return row, nil
}

// ComputeLedger builds one UsageRow per ingredient, ordered by ingredient id.
func ComputeLedger(ingredients []Ingredient, movements []Movement) ([]UsageRow, error) {
	byIngredient := make(map[int64][]Movement, len(ingredients))
	for _, mv := range movements {
		byIngredient[mv.IngredientID] = append(byIngredient[mv.IngredientID], mv)
	}
	sorted := make([]Ingredient, len(ingredients))
	copy(sorted, ingredients)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	rows := make([]UsageRow, 0, len(sorted))
	for _, ing := range sorted {
		row, err := ComputeUsage(ing, byIngredient[ing.ID])
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Flag grades a row's closing count against its expected closing.
type Flag struct {
	IngredientID   int64              `json:"ingredient_id"`
	IngredientName string             `json:"ingredient_name"`
	NegativeUsage  bool               `json:"negative_usage"`
	Result         discrepancy.Result `json:"result"`
}

// Classify compares the expected closing with the counted closing. It reports
// false when either side is undefined.
func (r UsageRow) Classify() (Flag, bool) {
	if !r.ExpectedClosing.Valid || !r.Closing.Valid {
		return Flag{}, false
	}
	return Flag{
		IngredientID:   r.IngredientID,
		IngredientName: r.IngredientName,
		NegativeUsage:  r.NegativeUsage(),
		Result:         discrepancy.Classify(r.ExpectedClosing.Decimal, r.Closing.Decimal),
	}, true
}

// ClassifyRows grades every row that has both sides defined.
func ClassifyRows(rows []UsageRow) []Flag {
	flags := make([]Flag, 0, len(rows))
	for _, row := range rows {
		if flag, ok := row.Classify(); ok {
			flags = append(flags, flag)
		}
	}
	return flags
}
