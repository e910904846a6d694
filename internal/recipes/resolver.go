package recipes

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/ledger"
)

// EstimateStatus explains whether an estimate could be produced.
type EstimateStatus string

const (
	// EstimateOK means Units is defined.
	EstimateOK EstimateStatus = "ESTIMATED"
	// EstimateIncomplete means the primary ingredient has no usage yet.
	EstimateIncomplete EstimateStatus = "INCOMPLETE"
	// EstimateNegativeUsage means the counts imply negative consumption.
	EstimateNegativeUsage EstimateStatus = "NEGATIVE_USAGE"
	// EstimateNoRecipe means the variant has no recipe.
	EstimateNoRecipe EstimateStatus = "NO_RECIPE"
	// EstimateInvalidRecipe means the variant's recipe failed validation.
	EstimateInvalidRecipe EstimateStatus = "INVALID_RECIPE"
)

// Estimate is the unrounded number of units implied by primary ingredient usage.
type Estimate struct {
	VariantID    int64               `json:"variant_id"`
	IngredientID int64               `json:"ingredient_id"`
	Units        decimal.NullDecimal `json:"units"`
	Status       EstimateStatus      `json:"status"`
}

// EstimateUnitsSold divides primary ingredient usage by the primary quantity per
// unit. Undefined or negative usage yields an undefined, flagged estimate.
func EstimateUnitsSold(recipe Recipe, row ledger.UsageRow) (Estimate, error) {
	primary, err := recipe.Primary()
	if err != nil {
		return Estimate{}, err
	}
	if row.IngredientID != primary.IngredientID {
		return Estimate{}, fmt.Errorf("%w: want ingredient %d got %d", ErrUsageMismatch, primary.IngredientID, row.IngredientID)
	}
	est := Estimate{VariantID: recipe.VariantID, IngredientID: primary.IngredientID}
	switch {
	case !row.Usage.Valid:
		est.Status = EstimateIncomplete
	case row.Usage.Decimal.IsNegative():
		est.Status = EstimateNegativeUsage
	default:
		est.Status = EstimateOK
		est.Units = decimal.NewNullDecimal(row.Usage.Decimal.Div(primary.QuantityPerUnit))
	}
	return est, nil
}

// CalculatedSale is a derived sale record for one variant.
type CalculatedSale struct {
	VariantID           int64           `json:"variant_id"`
	VariantName         string          `json:"variant_name"`
	PrimaryIngredientID int64           `json:"primary_ingredient_id"`
	EstimatedUnits      decimal.Decimal `json:"estimated_units"`
	// Quantity is EstimatedUnits rounded half-up to whole units.
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// Unresolved names a variant that produced no calculated sale.
type Unresolved struct {
	VariantID    int64          `json:"variant_id"`
	VariantName  string         `json:"variant_name"`
	IngredientID int64          `json:"ingredient_id,omitempty"`
	Status       EstimateStatus `json:"status"`
	Reason       string         `json:"reason"`
}

// SharedPrimary lists variants that draw on the same primary ingredient. Each of
// them is attributed the ingredient's whole usage.
type SharedPrimary struct {
	IngredientID int64   `json:"ingredient_id"`
	VariantIDs   []int64 `json:"variant_ids"`
}

// CalculatedSales is the builder's output.
type CalculatedSales struct {
	Sales           []CalculatedSale `json:"sales"`
	Unresolved      []Unresolved     `json:"unresolved"`
	SharedPrimaries []SharedPrimary  `json:"shared_primaries,omitempty"`

	invalid []error
}

// Err joins every invalid recipe error met while building.
func (c CalculatedSales) Err() error {
	return errors.Join(c.invalid...)
}

// TotalRevenue sums the revenue of every calculated sale.
func (c CalculatedSales) TotalRevenue() decimal.Decimal {
	total := decimal.Zero
	for _, sale := range c.Sales {
		total = total.Add(sale.Revenue)
	}
	return total
}

// BuildCalculatedSales derives one CalculatedSale per active variant whose
// recipe and primary usage allow it. Variants that cannot be estimated are
// reported in Unresolved; invalid recipes are also surfaced through Err.
func BuildCalculatedSales(variants []Variant, recipeList []Recipe, usage []ledger.UsageRow) CalculatedSales {
	rows := make(map[int64]ledger.UsageRow, len(usage))
	for _, row := range usage {
		rows[row.IngredientID] = row
	}
	byVariant := make(map[int64][]Recipe, len(recipeList))
	for _, r := range recipeList {
		byVariant[r.VariantID] = append(byVariant[r.VariantID], r)
	}

	ordered := make([]Variant, 0, len(variants))
	for _, v := range variants {
		if v.Active {
			ordered = append(ordered, v)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	out := CalculatedSales{Sales: []CalculatedSale{}, Unresolved: []Unresolved{}}
	primaryUsers := make(map[int64][]int64)
	for _, variant := range ordered {
		name := variant.DisplayName()
		candidates := byVariant[variant.ID]
		if len(candidates) == 0 {
			out.Unresolved = append(out.Unresolved, Unresolved{VariantID: variant.ID, VariantName: name, Status: EstimateNoRecipe, Reason: "variant has no recipe"})
			continue
		}
		if len(candidates) > 1 {
			err := &InvalidRecipeError{RecipeID: candidates[0].ID, VariantID: variant.ID, Reason: fmt.Sprintf("%d recipes for one variant", len(candidates))}
			out.addInvalid(variant, err)
			continue
		}
		recipe := candidates[0]
		primary, err := recipe.Primary()
		if err != nil {
			out.addInvalid(variant, err)
			continue
		}
		primaryUsers[primary.IngredientID] = append(primaryUsers[primary.IngredientID], variant.ID)

		row, ok := rows[primary.IngredientID]
		if !ok {
			out.Unresolved = append(out.Unresolved, Unresolved{VariantID: variant.ID, VariantName: name, IngredientID: primary.IngredientID, Status: EstimateIncomplete, Reason: "primary ingredient is not tracked"})
			continue
		}
		est, err := EstimateUnitsSold(recipe, row)
		if err != nil {
			out.addInvalid(variant, err)
			continue
		}
		switch est.Status {
		case EstimateIncomplete:
			out.Unresolved = append(out.Unresolved, Unresolved{VariantID: variant.ID, VariantName: name, IngredientID: primary.IngredientID, Status: est.Status, Reason: fmt.Sprintf("usage of %s is undefined", row.IngredientName)})
			continue
		case EstimateNegativeUsage:
			out.Unresolved = append(out.Unresolved, Unresolved{VariantID: variant.ID, VariantName: name, IngredientID: primary.IngredientID, Status: est.Status, Reason: fmt.Sprintf("usage of %s is negative (%s)", row.IngredientName, row.Usage.Decimal.String())})
			continue
		}
		qty := est.Units.Decimal.Round(0)
		out.Sales = append(out.Sales, CalculatedSale{
			VariantID:           variant.ID,
			VariantName:         name,
			PrimaryIngredientID: primary.IngredientID,
			EstimatedUnits:      est.Units.Decimal,
			Quantity:            qty,
			UnitPrice:           variant.Price,
			Revenue:             qty.Mul(variant.Price),
		})
	}

	for ingredientID, users := range primaryUsers {
		if len(users) > 1 {
			out.SharedPrimaries = append(out.SharedPrimaries, SharedPrimary{IngredientID: ingredientID, VariantIDs: users})
		}
	}
	sort.Slice(out.SharedPrimaries, func(i, j int) bool {
		return out.SharedPrimaries[i].IngredientID < out.SharedPrimaries[j].IngredientID
	})
	return out
}

func (c *CalculatedSales) addInvalid(variant Variant, err error) {
	c.invalid = append(c.invalid, err)
	c.Unresolved = append(c.Unresolved, Unresolved{
		VariantID:   variant.ID,
		VariantName: variant.DisplayName(),
		Status:      EstimateInvalidRecipe,
		Reason:      err.Error(),
	})
}
