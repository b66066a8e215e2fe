package report

import (
	"slices"

	"github.com/shopspring/decimal"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"kolkostruva/internal/ident"
	"kolkostruva/internal/pricing"
)

// CityOption is an entry of the city selector.
type CityOption struct {
	EkatteCode string `json:"ekatte_code"`
	Name       string `json:"name"`
}

// CategoryOption is an entry of the category selector.
type CategoryOption struct {
	ID   ident.ID `json:"id"`
	Name string   `json:"name"`
}

// Cities returns one option per EKATTE code present in rows, ordered by name
// the way a Bulgarian reader expects. Records without a code are skipped.
func Cities(rows []pricing.Enriched) []CityOption {
	seen := make(map[string]struct{})
	out := make([]CityOption, 0)
	for _, r := range rows {
		code := r.City.EkatteCode
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, CityOption{EkatteCode: code, Name: r.City.Name})
	}
	c := collate.New(language.Bulgarian)
	slices.SortStableFunc(out, func(a, b CityOption) int {
		if n := c.CompareString(a.Name, b.Name); n != 0 {
			return n
		}
		return c.CompareString(a.EkatteCode, b.EkatteCode)
	})
	return out
}

// Categories returns one option per category id present in rows, ordered by
// name.
func Categories(rows []pricing.Enriched) []CategoryOption {
	seen := make(map[int]struct{})
	out := make([]CategoryOption, 0)
	for _, r := range rows {
		id, ok := r.Category.ID.Int()
		if !ok || id == 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, CategoryOption{ID: r.Category.ID, Name: r.Category.Name})
	}
	c := collate.New(language.Bulgarian)
	slices.SortStableFunc(out, func(a, b CategoryOption) int {
		if n := c.CompareString(a.Name, b.Name); n != 0 {
			return n
		}
		x, _ := a.ID.Int()
		y, _ := b.ID.Int()
		return x - y
	})
	return out
}

// Bar is one bar of the category chart.
type Bar struct {
	Label string          `json:"label"`
	Value decimal.Decimal `json:"value"`
	// Width is the bar length as a percentage of the largest average.
	Width float64 `json:"width"`
}

// ChartBars scales averages against the largest one.
func ChartBars(results []CategoryAverage) []Bar {
	out := make([]Bar, 0, len(results))
	top := decimal.Zero
	for _, r := range results {
		if r.AvgPrice.GreaterThan(top) {
			top = r.AvgPrice
		}
	}
	hundred := decimal.NewFromInt(100)
	for _, r := range results {
		width := 0.0
		if top.IsPositive() {
			width = r.AvgPrice.Div(top).Mul(hundred).InexactFloat64()
		}
		out = append(out, Bar{Label: r.CategoryName, Value: r.AvgPrice, Width: width})
	}
	return out
}
