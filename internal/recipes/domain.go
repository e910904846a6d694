// Package recipes maps ingredient usage back onto product units sold.
package recipes

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Variant is a sellable product variant with its current price.
type Variant struct {
	ID          int64           `json:"id"`
	ProductName string          `json:"product_name"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Active      bool            `json:"active"`
}

// DisplayName joins product and variant names.
func (v Variant) DisplayName() string {
	if v.Name == "" {
		return v.ProductName
	}
	if v.ProductName == "" {
		return v.Name
	}
	return v.ProductName + " " + v.Name
}

// Line is one ingredient requirement of a recipe.
type Line struct {
	IngredientID    int64           `json:"ingredient_id"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit"`
	Primary         bool            `json:"primary"`
}

// Recipe maps a variant to its ingredient lines.
type Recipe struct {
	ID        int64  `json:"id"`
	VariantID int64  `json:"variant_id"`
	Lines     []Line `json:"lines"`
}

// NewRecipe builds a recipe and validates it.
func NewRecipe(id, variantID int64, lines []Line) (Recipe, error) {
	r := Recipe{ID: id, VariantID: variantID, Lines: lines}
	if err := r.Validate(); err != nil {
		return Recipe{}, err
	}
	return r, nil
}

// Validate enforces exactly one primary line with a positive quantity per unit.
func (r Recipe) Validate() error {
	if r.VariantID <= 0 {
		return &InvalidRecipeError{RecipeID: r.ID, VariantID: r.VariantID, Reason: "variant required"}
	}
	if len(r.Lines) == 0 {
		return &InvalidRecipeError{RecipeID: r.ID, VariantID: r.VariantID, Reason: "recipe has no lines"}
	}
	primaries := 0
	seen := make(map[int64]struct{}, len(r.Lines))
	for _, line := range r.Lines {
		if _, dup := seen[line.IngredientID]; dup {
			return &InvalidRecipeError{RecipeID: r.ID, VariantID: r.VariantID, Reason: fmt.Sprintf("ingredient %d listed twice", line.IngredientID)}
		}
		seen[line.IngredientID] = struct{}{}
		if !line.QuantityPerUnit.IsPositive() {
			return &InvalidRecipeError{RecipeID: r.ID, VariantID: r.VariantID, Reason: fmt.Sprintf("ingredient %d quantity per unit must be > 0", line.IngredientID)}
		}
		if line.Primary {
			primaries++
		}
	}
	switch primaries {
	case 1:
		return nil
	case 0:
		return &InvalidRecipeError{RecipeID: r.ID, VariantID: r.VariantID, Reason: "no primary ingredient"}
	default:
		return &InvalidRecipeError{RecipeID: r.ID, VariantID: r.VariantID, Reason: fmt.Sprintf("%d primary ingredients", primaries)}
	}
}

// Primary returns the single primary line.
func (r Recipe) Primary() (Line, error) {
	if err := r.Validate(); err != nil {
		return Line{}, err
	}
	for _, line := range r.Lines {
		if line.Primary {
			return line, nil
		}
	}
	return Line{}, &InvalidRecipeError{RecipeID: r.ID, VariantID: r.VariantID, Reason: "no primary ingredient"}
}

// ErrInvalidRecipe indicates a recipe that cannot drive an estimate.
var ErrInvalidRecipe = errors.New("recipes: invalid recipe")

// ErrUsageMismatch indicates a usage row for an ingredient other than the primary.
var ErrUsageMismatch = errors.New("recipes: usage row does not match primary ingredient")

// InvalidRecipeError describes why a recipe was rejected.
type InvalidRecipeError struct {
	RecipeID  int64
	VariantID int64
	Reason    string
}

func (e *InvalidRecipeError) Error() string {
	return fmt.Sprintf("%s: variant %d: %s", ErrInvalidRecipe.Error(), e.VariantID, e.Reason)
}

// Is lets errors.Is match ErrInvalidRecipe.
func (e *InvalidRecipeError) Is(target error) bool {
	return target == ErrInvalidRecipe
}
