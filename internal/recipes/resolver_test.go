package recipes

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/ledger"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

const (
	meatID  int64 = 1
	breadID int64 = 2
)

var kebabLarge = Variant{ID: 10, ProductName: "Kebab", Name: "Large", Price: d("28.00"), Active: true}

func kebabRecipe(t *testing.T) Recipe {
	t.Helper()
	r, err := NewRecipe(100, kebabLarge.ID, []Line{
		{IngredientID: meatID, QuantityPerUnit: d("0.15"), Primary: true},
		{IngredientID: breadID, QuantityPerUnit: d("1")},
	})
	require.NoError(t, err)
	return r
}

func usage(ingredientID int64, name string, value string) ledger.UsageRow {
	row := ledger.UsageRow{IngredientID: ingredientID, IngredientName: name}
	if value != "" {
		row.Usage = decimal.NewNullDecimal(d(value))
	}
	return row
}

func TestNewRecipeRequiresExactlyOnePrimary(t *testing.T) {
	_, err := NewRecipe(1, 10, []Line{{IngredientID: meatID, QuantityPerUnit: d("1")}})
	var invalid *InvalidRecipeError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "no primary ingredient", invalid.Reason)

	_, err = NewRecipe(1, 10, []Line{
		{IngredientID: meatID, QuantityPerUnit: d("1"), Primary: true},
		{IngredientID: breadID, QuantityPerUnit: d("1"), Primary: true},
	})
	require.ErrorIs(t, err, ErrInvalidRecipe)

	_, err = NewRecipe(1, 10, []Line{{IngredientID: meatID, QuantityPerUnit: d("0"), Primary: true}})
	require.ErrorIs(t, err, ErrInvalidRecipe)
}

func TestEstimateUnitsSoldScenario(t *testing.T) {
	est, err := EstimateUnitsSold(kebabRecipe(t), usage(meatID, "Meat", "2.5"))
	require.NoError(t, err)
	require.Equal(t, EstimateOK, est.Status)
	require.True(t, est.Units.Valid)
	require.True(t, d("16.67").Equal(est.Units.Decimal.Round(2)))
	require.True(t, d("17").Equal(est.Units.Decimal.Round(0)))
}

func TestEstimateUnitsSoldFlagsUndefinedAndNegative(t *testing.T) {
	est, err := EstimateUnitsSold(kebabRecipe(t), usage(meatID, "Meat", ""))
	require.NoError(t, err)
	require.Equal(t, EstimateIncomplete, est.Status)
	require.False(t, est.Units.Valid)

	est, err = EstimateUnitsSold(kebabRecipe(t), usage(meatID, "Meat", "-0.3"))
	require.NoError(t, err)
	require.Equal(t, EstimateNegativeUsage, est.Status)
	require.False(t, est.Units.Valid)
}

func TestEstimateUnitsSoldIgnoresNonPrimaryUsage(t *testing.T) {
	_, err := EstimateUnitsSold(kebabRecipe(t), usage(breadID, "Bread", "40"))
	require.ErrorIs(t, err, ErrUsageMismatch)
}

func TestBuildCalculatedSales(t *testing.T) {
	small := Variant{ID: 11, ProductName: "Kebab", Name: "Small", Price: d("18.00"), Active: true}
	drink := Variant{ID: 12, ProductName: "Ayran", Price: d("6.00"), Active: true}
	broken := Variant{ID: 13, ProductName: "Wrap", Price: d("20.00"), Active: true}
	retired := Variant{ID: 14, ProductName: "Old", Price: d("1.00")}

	smallRecipe := Recipe{ID: 101, VariantID: small.ID, Lines: []Line{{IngredientID: breadID, QuantityPerUnit: d("0.5"), Primary: true}}}
	brokenRecipe := Recipe{ID: 102, VariantID: broken.ID, Lines: []Line{{IngredientID: meatID, QuantityPerUnit: d("0.1")}}}

	out := BuildCalculatedSales(
		[]Variant{broken, drink, small, kebabLarge, retired},
		[]Recipe{kebabRecipe(t), smallRecipe, brokenRecipe},
		[]ledger.UsageRow{usage(meatID, "Meat", "2.5"), usage(breadID, "Bread", "")},
	)

	require.Len(t, out.Sales, 1)
	sale := out.Sales[0]
	require.Equal(t, kebabLarge.ID, sale.VariantID)
	require.Equal(t, "Kebab Large", sale.VariantName)
	require.True(t, d("17").Equal(sale.Quantity))
	require.True(t, d("476.00").Equal(sale.Revenue))
	require.True(t, d("476").Equal(out.TotalRevenue()))

	statuses := map[int64]EstimateStatus{}
	for _, u := range out.Unresolved {
		statuses[u.VariantID] = u.Status
	}
	require.Equal(t, map[int64]EstimateStatus{
		small.ID:  EstimateIncomplete,
		drink.ID:  EstimateNoRecipe,
		broken.ID: EstimateInvalidRecipe,
	}, statuses)

	err := out.Err()
	require.Error(t, err)
	var invalid *InvalidRecipeError
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, broken.ID, invalid.VariantID)
	require.ErrorIs(t, err, ErrInvalidRecipe)
}

func TestBuildCalculatedSalesRoundsHalfUp(t *testing.T) {
	v := Variant{ID: 1, ProductName: "Fries", Price: d("5"), Active: true}
	r := Recipe{ID: 1, VariantID: v.ID, Lines: []Line{{IngredientID: meatID, QuantityPerUnit: d("0.2"), Primary: true}}}
	out := BuildCalculatedSales([]Variant{v}, []Recipe{r}, []ledger.UsageRow{usage(meatID, "Potato", "0.5")})
	require.NoError(t, out.Err())
	require.Len(t, out.Sales, 1)
	require.True(t, d("2.5").Equal(out.Sales[0].EstimatedUnits))
	require.True(t, d("3").Equal(out.Sales[0].Quantity))
	require.True(t, d("15").Equal(out.Sales[0].Revenue))
}

func TestBuildCalculatedSalesReportsSharedPrimary(t *testing.T) {
	small := Variant{ID: 11, ProductName: "Kebab", Name: "Small", Price: d("18.00"), Active: true}
	smallRecipe := Recipe{ID: 101, VariantID: small.ID, Lines: []Line{{IngredientID: meatID, QuantityPerUnit: d("0.1"), Primary: true}}}
	out := BuildCalculatedSales([]Variant{kebabLarge, small}, []Recipe{kebabRecipe(t), smallRecipe}, []ledger.UsageRow{usage(meatID, "Meat", "3")})
	require.Len(t, out.Sales, 2)
	require.Equal(t, []SharedPrimary{{IngredientID: meatID, VariantIDs: []int64{kebabLarge.ID, small.ID}}}, out.SharedPrimaries)
}
