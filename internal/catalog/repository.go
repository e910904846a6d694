// Package catalog reads the reference data the back-office reconciles against:
// tracked ingredients, product variants and their recipes.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/recipes"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository reads catalog tables from PostgreSQL.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs Repository.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// TrackedIngredients lists ingredients counted at open and close, ordered by id.
func (r *Repository) TrackedIngredients(ctx context.Context) ([]ledger.Ingredient, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, unit_kind, unit FROM ingredients WHERE tracked ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Ingredient
	for rows.Next() {
		var (
			ing  ledger.Ingredient
			kind string
		)
		if err := rows.Scan(&ing.ID, &ing.Name, &kind, &ing.Unit); err != nil {
			return nil, err
		}
		ing.Kind = ledger.UnitKind(kind)
		out = append(out, ing)
	}
	return out, rows.Err()
}

const variantColumns = `id, product_name, variant_name, price, active`

func scanVariant(row pgx.Row) (recipes.Variant, error) {
	var v recipes.Variant
	err := row.Scan(&v.ID, &v.ProductName, &v.Name, &v.Price, &v.Active)
	return v, err
}

// ActiveVariants lists variants currently on sale, ordered by id.
func (r *Repository) ActiveVariants(ctx context.Context) ([]recipes.Variant, error) {
	rows, err := r.db.Query(ctx, `SELECT `+variantColumns+` FROM product_variants WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []recipes.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Variant loads one variant, active or not.
func (r *Repository) Variant(ctx context.Context, id int64) (recipes.Variant, error) {
	v, err := scanVariant(r.db.QueryRow(ctx, `SELECT `+variantColumns+` FROM product_variants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return recipes.Variant{}, fmt.Errorf("catalog: variant %d: %w", id, shared.ErrNotFound)
	}
	return v, err
}

// Recipes returns every recipe with its lines as stored. Validation happens
// where the recipe is used so that a broken recipe stays visible.
func (r *Repository) Recipes(ctx context.Context) ([]recipes.Recipe, error) {
	rows, err := r.db.Query(ctx, `SELECT r.id, r.variant_id, l.ingredient_id, l.quantity_per_unit, l.is_primary
		FROM recipes r
		LEFT JOIN recipe_lines l ON l.recipe_id = r.id
		ORDER BY r.id, l.ingredient_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecipes(rows)
}

type recipeRow struct {
	RecipeID        int64
	VariantID       int64
	IngredientID    *int64
	QuantityPerUnit decimal.NullDecimal
	Primary         *bool
}

func collectRecipes(rows pgx.Rows) ([]recipes.Recipe, error) {
	var flat []recipeRow
	for rows.Next() {
		var rr recipeRow
		if err := rows.Scan(&rr.RecipeID, &rr.VariantID, &rr.IngredientID, &rr.QuantityPerUnit, &rr.Primary); err != nil {
			return nil, err
		}
		flat = append(flat, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groupRecipes(flat), nil
}

// groupRecipes folds ordered join rows into recipes. A recipe without lines
// yields an empty Lines slice.
func groupRecipes(flat []recipeRow) []recipes.Recipe {
	var out []recipes.Recipe
	for _, rr := range flat {
		if len(out) == 0 || out[len(out)-1].ID != rr.RecipeID {
			out = append(out, recipes.Recipe{ID: rr.RecipeID, VariantID: rr.VariantID, Lines: []recipes.Line{}})
		}
		if rr.IngredientID == nil {
			continue
		}
		line := recipes.Line{IngredientID: *rr.IngredientID, QuantityPerUnit: rr.QuantityPerUnit.Decimal}
		if rr.Primary != nil {
			line.Primary = *rr.Primary
		}
		last := &out[len(out)-1]
		last.Lines = append(last.Lines, line)
	}
	return out
}
