// Package ident defines the integer identifier shared by fact foreign keys and
// dimension table keys.
package ident

import (
	"encoding/json"
	"math"
	"strconv"
)

// ID is an integer dimension key. The zero value is NaN, which marks a cell that
// did not hold a number and never equals a valid id; use Of(0) for id 0.
type ID struct {
	n     int
	valid bool
}

// NaN is the placeholder produced for non-numeric key cells.
var NaN = ID{}

// Of wraps a valid integer id.
func Of(n int) ID { return ID{n: n, valid: true} }

// Valid reports whether the id holds a number.
func (id ID) Valid() bool { return id.valid }

// Int returns the numeric value and whether it is valid.
func (id ID) Int() (int, bool) { return id.n, id.valid }

// Equal reports whether both ids are valid and hold the same number.
func (id ID) Equal(other ID) bool {
	return id.valid && other.valid && id.n == other.n
}

func (id ID) String() string {
	if !id.valid {
		return "NaN"
	}
	return strconv.Itoa(id.n)
}

// MarshalJSON encodes valid ids as numbers and NaN as null.
func (id ID) MarshalJSON() ([]byte, error) {
	if !id.valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(id.n)), nil
}

// UnmarshalJSON accepts numbers, numeric strings and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = NaN
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = Parse(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = Parse(n.String())
	return nil
}

// Parse reads a leading base-10 integer after optional whitespace and sign.
// Trailing garbage is ignored ("12abc" is 12); input without leading digits,
// or whose digit run does not fit in an int, is NaN.
func Parse(s string) ID {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r' || s[i] == '\n') {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	start := i
	n := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		d := int(s[i] - '0')
		if n > (math.MaxInt-d)/10 {
			return NaN
		}
		n = n*10 + d
		i++
	}
	if i == start {
		return NaN
	}
	if neg {
		n = -n
	}
	return Of(n)
}
