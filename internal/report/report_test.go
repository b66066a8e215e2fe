package report

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolkostruva/internal/ident"
	"kolkostruva/internal/pricing"
)

func row(date, ekatte string, category int, categoryName, product, retail string) pricing.Enriched {
	r := pricing.Enriched{
		Date:        date,
		Category:    pricing.CategoryRef{ID: ident.Of(category), Name: categoryName},
		City:        pricing.CityRef{EkatteCode: ekatte, Name: "София"},
		Product:     pricing.ProductRef{Name: product},
		RetailPrice: decimal.RequireFromString(retail),
	}
	r.EffectivePrice = pricing.Price(r)
	return r
}

func withPromo(r pricing.Enriched, promo string) pricing.Enriched {
	r.PromoPrice = decimal.NullDecimal{Decimal: decimal.RequireFromString(promo), Valid: true}
	r.EffectivePrice = pricing.Price(r)
	return r
}

func productNames(rows []Priced) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Product.Name)
	}
	return out
}

func TestPriceByCategoryOrdersByAverage(t *testing.T) {
	rows := []pricing.Enriched{
		row("2024-01-10", "68134", 1, "A", "a1", "10"),
		row("2024-01-10", "68134", 2, "B", "b1", "5"),
		row("2024-01-10", "68134", 1, "A", "a2", "20"),
		row("2024-01-10", "10135", 2, "B", "b2", "1"),
	}
	got := PriceByCategory(rows, "68134")
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].CategoryName)
	assert.True(t, got[0].AvgPrice.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 1, got[0].Count)
	assert.Equal(t, "A", got[1].CategoryName)
	assert.True(t, got[1].AvgPrice.Equal(decimal.NewFromInt(15)))
	assert.True(t, got[1].CategoryID.Equal(ident.Of(1)))
}

func TestPriceByCategoryUsesEffectivePrice(t *testing.T) {
	rows := []pricing.Enriched{
		withPromo(row("d", "68134", 1, "A", "a1", "10"), "4"),
		withPromo(row("d", "68134", 1, "A", "a2", "10"), "0"),
	}
	got := PriceByCategory(rows, "68134")
	require.Len(t, got, 1)
	assert.True(t, got[0].AvgPrice.Equal(decimal.NewFromInt(7)))
}

func TestPriceByCategoryTiesKeepIDOrder(t *testing.T) {
	rows := []pricing.Enriched{
		row("d", "68134", 9, "Z", "z", "3"),
		row("d", "68134", 4, "Y", "y", "3"),
		row("d", "68134", 6, "X", "x", "3"),
	}
	got := PriceByCategory(rows, "68134")
	require.Len(t, got, 3)
	assert.Equal(t, []string{"Y", "X", "Z"}, []string{got[0].CategoryName, got[1].CategoryName, got[2].CategoryName})
}

func TestPriceByCategorySkipsUnusableCategory(t *testing.T) {
	nan := row("d", "68134", 0, "", "n", "1")
	nan.Category.ID = ident.NaN
	rows := []pricing.Enriched{
		nan,
		row("d", "68134", 0, "zero", "z", "1"),
		row("d", "68134", 3, "C", "c", "2"),
	}
	got := PriceByCategory(rows, "68134")
	require.Len(t, got, 1)
	assert.Equal(t, "C", got[0].CategoryName)
}

func TestReportsOnUnknownCityAreEmpty(t *testing.T) {
	rows := []pricing.Enriched{row("d", "68134", 1, "A", "a", "1")}

	byCategory := PriceByCategory(rows, "00000")
	assert.NotNil(t, byCategory)
	assert.Empty(t, byCategory)

	products := ProductsInCityCategory(rows, "00000", ident.Of(1))
	assert.NotNil(t, products)
	assert.Empty(t, products)

	locations := LocationsForCategory(rows, ident.Of(2))
	assert.NotNil(t, locations)
	assert.Empty(t, locations)

	assert.Empty(t, PriceByCategory(nil, "68134"))
}

func TestProductsInCityCategoryStableSort(t *testing.T) {
	rows := []pricing.Enriched{
		row("d", "68134", 1, "A", "first", "2"),
		row("d", "68134", 1, "A", "cheap", "1"),
		row("d", "68134", 2, "B", "other", "0.5"),
		row("d", "10135", 1, "A", "elsewhere", "0.1"),
		row("d", "68134", 1, "A", "second", "2"),
		withPromo(row("d", "68134", 1, "A", "promo", "5"), "2"),
	}
	got := ProductsInCityCategory(rows, "68134", ident.Of(1))
	assert.Equal(t, []string{"cheap", "first", "second", "promo"}, productNames(got))
	assert.True(t, got[3].CalculatedPrice.Equal(decimal.NewFromInt(2)))
}

func TestProductsInCityCategoryNaNMatchesNothing(t *testing.T) {
	r := row("d", "68134", 0, "", "n", "1")
	r.Category.ID = ident.NaN
	assert.Empty(t, ProductsInCityCategory([]pricing.Enriched{r}, "68134", ident.NaN))
}

func TestLocationsForCategoryStableSort(t *testing.T) {
	rows := []pricing.Enriched{
		row("d", "10135", 1, "A", "varna", "3"),
		row("d", "68134", 1, "A", "sofia", "3"),
		row("d", "68134", 2, "B", "other", "1"),
		row("d", "07079", 1, "A", "burgas", "2.5"),
	}
	got := LocationsForCategory(rows, ident.Of(1))
	assert.Equal(t, []string{"burgas", "varna", "sofia"}, productNames(got))
}

func TestReportsAreDeterministic(t *testing.T) {
	rows := []pricing.Enriched{
		row("2024-01-10", "68134", 1, "A", "a", "2"),
		row("2024-01-09", "68134", 1, "A", "b", "1"),
		row("2024-01-10", "68134", 2, "B", "c", "2"),
		row("2024-01-10", "68134", 2, "B", "d", "2"),
	}
	before := append([]pricing.Enriched(nil), rows...)
	view := FilterByDate(rows, "2024-01-10")

	assert.Equal(t, PriceByCategory(view, "68134"), PriceByCategory(view, "68134"))
	assert.Equal(t, ProductsInCityCategory(view, "68134", ident.Of(2)), ProductsInCityCategory(view, "68134", ident.Of(2)))
	assert.Equal(t, LocationsForCategory(view, ident.Of(1)), LocationsForCategory(view, ident.Of(1)))
	assert.Equal(t, before, rows)
}
