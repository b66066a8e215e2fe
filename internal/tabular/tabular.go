// Package tabular parses small delimited text documents (CSV with a header row)
// into ordered records.
//
// The dialect is deliberately loose: a quote character toggles the quoted state
// and is dropped from the output, so `"a,b"` yields the single field `a,b`.
// Rows whose field count differs from the header are skipped, not reported.
package tabular

import (
	"fmt"
	"io"
	"strings"

	"kolkostruva/internal/ident"
)

// Options configures Parse.
type Options struct {
	// Delimiter separates fields. Defaults to ','.
	Delimiter rune
	// Quote toggles the quoted state. Defaults to '"'.
	Quote rune
	// IntColumns are parsed with ident.Parse instead of kept as strings.
	IntColumns []string
}

func (o Options) withDefaults() Options {
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.Quote == 0 {
		o.Quote = '"'
	}
	return o
}

// Record is one parsed row keyed by trimmed header name.
type Record struct {
	columns []string
	values  map[string]string
	ids     map[string]ident.ID
}

// String returns the trimmed cell for column, or "" when absent. Integer
// columns return their original text.
func (r Record) String(column string) string { return r.values[column] }

// ID returns the integer value of a declared integer column. Undeclared or
// missing columns yield ident.NaN.
func (r Record) ID(column string) ident.ID {
	id, ok := r.ids[column]
	if !ok {
		return ident.NaN
	}
	return id
}

// Has reports whether the header declared column.
func (r Record) Has(column string) bool {
	_, ok := r.values[column]
	return ok
}

// Columns returns the header names in file order.
func (r Record) Columns() []string { return append([]string(nil), r.columns...) }

// Result is the outcome of a parse.
type Result struct {
	Header  []string
	Records []Record
	// Skipped counts data rows dropped for a field-count mismatch.
	Skipped int
}

// Parse splits text into records using the header line for column names. A
// leading byte order mark is ignored.
func Parse(text string, opts Options) Result {
	opts = opts.withDefaults()
	text = strings.TrimPrefix(text, "\ufeff")
	lines := strings.Split(strings.TrimSpace(text), "\n")

	rawHeader := splitLine(lines[0], opts)
	header := make([]string, len(rawHeader))
	for i, h := range rawHeader {
		header[i] = strings.TrimSpace(h)
	}
	intCols := make(map[string]struct{}, len(opts.IntColumns))
	for _, c := range opts.IntColumns {
		intCols[c] = struct{}{}
	}

	res := Result{Header: header, Records: make([]Record, 0, len(lines)-1)}
	for _, line := range lines[1:] {
		fields := splitLine(line, opts)
		if len(fields) != len(header) {
			res.Skipped++
			continue
		}
		rec := Record{
			columns: header,
			values:  make(map[string]string, len(header)),
			ids:     make(map[string]ident.ID, len(intCols)),
		}
		for i, name := range header {
			v := strings.TrimSpace(fields[i])
			rec.values[name] = v
			if _, ok := intCols[name]; ok {
				rec.ids[name] = ident.Parse(v)
			}
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

// ParseReader reads r fully and parses it.
func ParseReader(r io.Reader, opts Options) (Result, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("read delimited text: %w", err)
	}
	return Parse(string(b), opts), nil
}

func splitLine(line string, opts Options) []string {
	var (
		fields   []string
		current  strings.Builder
		inQuotes bool
	)
	for _, ch := range line {
		switch {
		case ch == opts.Quote:
			inQuotes = !inQuotes
		case ch == opts.Delimiter && !inQuotes:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	return append(fields, current.String())
}
