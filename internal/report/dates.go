package report

import (
	"slices"
	"strings"

	"kolkostruva/internal/pricing"
)

// AvailableDates returns the distinct non-empty dates of rows, newest first.
// Dates are compared as text, which orders ISO dates chronologically.
func AvailableDates(rows []pricing.Enriched) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, r := range rows {
		if r.Date == "" {
			continue
		}
		if _, ok := seen[r.Date]; ok {
			continue
		}
		seen[r.Date] = struct{}{}
		out = append(out, r.Date)
	}
	slices.SortFunc(out, func(a, b string) int { return strings.Compare(b, a) })
	return out
}

// FilterByDate returns the rows dated exactly date, in input order. rows is
// left untouched.
func FilterByDate(rows []pricing.Enriched, date string) []pricing.Enriched {
	out := make([]pricing.Enriched, 0)
	for _, r := range rows {
		if r.Date == date {
			out = append(out, r)
		}
	}
	return out
}

// FormatDateBG renders an ISO date (YYYY-MM-DD) as DD.MM.YYYY. Anything else
// is returned unchanged.
func FormatDateBG(date string) string {
	parts := strings.Split(date, "-")
	if len(parts) != 3 || len(parts[0]) != 4 || len(parts[1]) != 2 || len(parts[2]) != 2 {
		return date
	}
	return parts[2] + "." + parts[1] + "." + parts[0]
}
