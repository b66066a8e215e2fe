// Package report answers the price queries rendered by the dashboard. Every
// function is pure: inputs are never modified and equal inputs give equal
// outputs.
package report

import (
	"slices"

	"github.com/shopspring/decimal"

	"kolkostruva/internal/ident"
	"kolkostruva/internal/pricing"
)

// CategoryAverage is one row of the price-by-category report.
type CategoryAverage struct {
	CategoryID   ident.ID        `json:"category_id"`
	CategoryName string          `json:"category_name"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	Count        int             `json:"count"`
}

// Priced is an enriched record annotated with the price the report sorted on.
type Priced struct {
	pricing.Enriched
	CalculatedPrice decimal.Decimal `json:"calculated_price"`
}

type categoryGroup struct {
	id    int
	name  string
	sum   decimal.Decimal
	count int
}

// PriceByCategory averages the effective price per category for the city with
// the given EKATTE code, cheapest category first. Categories with equal
// averages keep ascending id order. Records without a usable category id
// (NaN or 0) are left out.
func PriceByCategory(rows []pricing.Enriched, cityCode string) []CategoryAverage {
	groups := make(map[int]*categoryGroup)
	for _, r := range rows {
		if r.City.EkatteCode != cityCode {
			continue
		}
		id, ok := r.Category.ID.Int()
		if !ok || id == 0 {
			continue
		}
		g, seen := groups[id]
		if !seen {
			g = &categoryGroup{id: id, name: r.Category.Name}
			groups[id] = g
		}
		g.sum = g.sum.Add(pricing.Price(r))
		g.count++
	}

	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]CategoryAverage, 0, len(ids))
	for _, id := range ids {
		g := groups[id]
		out = append(out, CategoryAverage{
			CategoryID:   ident.Of(id),
			CategoryName: g.name,
			AvgPrice:     g.sum.Div(decimal.NewFromInt(int64(g.count))),
			Count:        g.count,
		})
	}
	slices.SortStableFunc(out, func(a, b CategoryAverage) int {
		return a.AvgPrice.Cmp(b.AvgPrice)
	})
	return out
}

// ProductsInCityCategory lists the records of one category in one city,
// cheapest first. Records with equal prices keep their input order.
func ProductsInCityCategory(rows []pricing.Enriched, cityCode string, categoryID ident.ID) []Priced {
	return pricedWhere(rows, func(r pricing.Enriched) bool {
		return r.City.EkatteCode == cityCode && r.Category.ID.Equal(categoryID)
	})
}

// LocationsForCategory lists the records of one category across all cities,
// cheapest first.
func LocationsForCategory(rows []pricing.Enriched, categoryID ident.ID) []Priced {
	return pricedWhere(rows, func(r pricing.Enriched) bool {
		return r.Category.ID.Equal(categoryID)
	})
}

func pricedWhere(rows []pricing.Enriched, keep func(pricing.Enriched) bool) []Priced {
	out := make([]Priced, 0)
	for _, r := range rows {
		if !keep(r) {
			continue
		}
		out = append(out, Priced{Enriched: r, CalculatedPrice: pricing.Price(r)})
	}
	slices.SortStableFunc(out, func(a, b Priced) int {
		return a.CalculatedPrice.Cmp(b.CalculatedPrice)
	})
	return out
}
