package reports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"kolkostruva/internal/ident"
	"kolkostruva/internal/report"
)

// table is a rendered report independent of the output format.
type table struct {
	Title   string
	Columns []string
	Rows    [][]any
	Bars    []report.Bar
	Data    any
}

func priceByCategoryTable(title string, rows []report.CategoryAverage) table {
	t := table{
		Title:   title,
		Columns: []string{"category_id", "category", "avg_price", "count"},
		Rows:    make([][]any, 0, len(rows)),
		Bars:    report.ChartBars(rows),
		Data:    rows,
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{r.CategoryID, r.CategoryName, r.AvgPrice.Round(2), r.Count})
	}
	return t
}

func pricedTable(title string, rows []report.Priced) table {
	t := table{
		Title:   title,
		Columns: []string{"date", "city", "chain", "address", "product", "product_code", "retail_price", "promo_price", "price"},
		Rows:    make([][]any, 0, len(rows)),
		Data:    rows,
	}
	bars := make([]report.CategoryAverage, 0, len(rows))
	for _, r := range rows {
		promo := ""
		if r.PromoPrice.Valid {
			promo = r.PromoPrice.Decimal.String()
		}
		t.Rows = append(t.Rows, []any{
			r.Date, r.City.Name, r.Chain.Name, r.TradeObject.Address,
			r.Product.Name, r.Product.Code, r.RetailPrice, promo, r.CalculatedPrice,
		})
		bars = append(bars, report.CategoryAverage{CategoryName: r.Product.Name + " / " + r.Chain.Name, AvgPrice: r.CalculatedPrice})
	}
	t.Bars = report.ChartBars(bars)
	return t
}

func render(format Format, t table) ([]byte, error) {
	switch format {
	case FormatJSON:
		payload, err := json.Marshal(map[string]any{"title": t.Title, "rows": t.Data})
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		return payload, nil
	case FormatCSV:
		return buildCSV(t)
	case FormatHTML:
		return buildHTML(t), nil
	case FormatPNG:
		return buildPNG(t.Bars)
	case FormatXLSX:
		return buildXLSX(t)
	default:
		return nil, fmt.Errorf("unsupported export format %s", format)
	}
}

func buildCSV(t table) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(t.Columns); err != nil {
		return nil, err
	}
	for _, row := range t.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = formatValue(v)
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildHTML(t table) []byte {
	buf := &strings.Builder{}
	buf.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>")
	buf.WriteString(html.EscapeString(t.Title))
	buf.WriteString("</title></head><body><h1>")
	buf.WriteString(html.EscapeString(t.Title))
	buf.WriteString("</h1><table><thead><tr>")
	for _, column := range t.Columns {
		buf.WriteString("<th>")
		buf.WriteString(html.EscapeString(column))
		buf.WriteString("</th>")
	}
	buf.WriteString("</tr></thead><tbody>")
	for _, row := range t.Rows {
		buf.WriteString("<tr>")
		for _, v := range row {
			buf.WriteString("<td>")
			buf.WriteString(html.EscapeString(formatValue(v)))
			buf.WriteString("</td>")
		}
		buf.WriteString("</tr>")
	}
	buf.WriteString("</tbody></table></body></html>")
	return []byte(buf.String())
}

const (
	chartWidth  = 600
	barHeight   = 18
	barGap      = 6
	chartMargin = 10
)

// buildPNG draws one horizontal bar per entry, scaled by Bar.Width.
func buildPNG(bars []report.Bar) ([]byte, error) {
	height := 2*chartMargin + len(bars)*(barHeight+barGap)
	if height < 2*chartMargin+barHeight {
		height = 2*chartMargin + barHeight
	}
	img := image.NewRGBA(image.Rect(0, 0, chartWidth, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)

	span := float64(chartWidth - 2*chartMargin)
	fill := &image.Uniform{color.RGBA{0, 102, 204, 255}}
	for i, bar := range bars {
		length := int(span * bar.Width / 100)
		if length < 1 {
			length = 1
		}
		y0 := chartMargin + i*(barHeight+barGap)
		rect := image.Rect(chartMargin, y0, chartMargin+length, y0+barHeight)
		draw.Draw(img, rect, fill, image.Point{}, draw.Src)
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const xlsxSheet = "Report"

func buildXLSX(t table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}

	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(t.Columns), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(xlsxSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, row := range t.Rows {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = xlsxValue(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(xlsxSheet, cell, &cells); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// xlsxValue keeps prices and ids numeric in the workbook.
func xlsxValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.InexactFloat64()
	case ident.ID:
		if n, ok := x.Int(); ok {
			return n
		}
		return ""
	default:
		return v
	}
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case int:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprint(v)
	}
}
