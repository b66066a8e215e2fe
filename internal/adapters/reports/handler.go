// Package reports exposes the price reports over HTTP for the dashboard
// renderer and exports them asynchronously to the blob store.
package reports

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"kolkostruva/internal/ident"
	"kolkostruva/internal/report"
	"kolkostruva/internal/session"
)

// Reports is the query surface of a loaded session.
type Reports interface {
	Dates() ([]string, error)
	SelectedDate() (string, error)
	SelectDate(date string) error
	Cities() ([]report.CityOption, error)
	Categories() ([]report.CategoryOption, error)
	PriceByCategory(cityCode string) ([]report.CategoryAverage, error)
	ProductsInCityCategory(cityCode string, categoryID ident.ID) ([]report.Priced, error)
	LocationsForCategory(categoryID ident.ID) ([]report.Priced, error)
	Stats() (session.Stats, error)
	Snapshots
}

// Snapshots runs a report against one date view and returns that view's date
// with the rows, so the two can never disagree.
type Snapshots interface {
	PriceByCategoryAt(cityCode string) (string, []report.CategoryAverage, error)
	ProductsInCityCategoryAt(cityCode string, categoryID ident.ID) (string, []report.Priced, error)
	LocationsForCategoryAt(categoryID ident.ID) (string, []report.Priced, error)
}

var _ Reports = (*session.Session)(nil)

// Handler serves the report API.
type Handler struct {
	Reports Reports
	Exports ExportScheduler
}

// NewHandler constructs a report HTTP handler. Exports may be set afterwards.
func NewHandler(r Reports) *Handler {
	return &Handler{Reports: r}
}

const apiPrefix = "/api/v1"

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Reports == nil {
		writeError(w, http.StatusInternalServerError, "report session not configured")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == apiPrefix+"/dates":
		h.get(w, r, h.handleDates)
	case path == apiPrefix+"/dates/selected":
		h.handleSelected(w, r)
	case path == apiPrefix+"/cities":
		h.get(w, r, h.handleCities)
	case path == apiPrefix+"/categories":
		h.get(w, r, h.handleCategories)
	case path == apiPrefix+"/stats":
		h.get(w, r, h.handleStats)
	case path == apiPrefix+"/reports/price-by-category":
		h.get(w, r, h.handlePriceByCategory)
	case path == apiPrefix+"/reports/products":
		h.get(w, r, h.handleProducts)
	case path == apiPrefix+"/reports/locations":
		h.get(w, r, h.handleLocations)
	case strings.HasPrefix(path, apiPrefix+"/exports"):
		if h.Exports == nil {
			http.NotFound(w, r)
			return
		}
		h.handleExports(w, r, path)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, fn http.HandlerFunc) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	fn(w, r)
}

type dateOption struct {
	Date  string `json:"date"`
	Label string `json:"label"`
}

func (h *Handler) handleDates(w http.ResponseWriter, _ *http.Request) {
	dates, err := h.Reports.Dates()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	selected, err := h.Reports.SelectedDate()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	rows := make([]dateOption, 0, len(dates))
	for _, d := range dates {
		rows = append(rows, dateOption{Date: d, Label: report.FormatDateBG(d)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "selected": selected})
}

type selectRequest struct {
	Date string `json:"date"`
}

func (h *Handler) handleSelected(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		selected, err := h.Reports.SelectedDate()
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"selected": selected})
	case http.MethodPut:
		var req selectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid date selection payload")
			return
		}
		date := strings.TrimSpace(req.Date)
		if date == "" {
			writeError(w, http.StatusBadRequest, "date required")
			return
		}
		if err := h.Reports.SelectDate(date); err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"selected": date})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleCities(w http.ResponseWriter, _ *http.Request) {
	rows, err := h.Reports.Cities()
	writeRows(w, rows, err)
}

func (h *Handler) handleCategories(w http.ResponseWriter, _ *http.Request) {
	rows, err := h.Reports.Categories()
	writeRows(w, rows, err)
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := h.Reports.Stats()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (h *Handler) handlePriceByCategory(w http.ResponseWriter, r *http.Request) {
	city, ok := requireCity(w, r)
	if !ok {
		return
	}
	rows, err := h.Reports.PriceByCategory(city)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if rows == nil {
		rows = []report.CategoryAverage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "bars": report.ChartBars(rows)})
}

func (h *Handler) handleProducts(w http.ResponseWriter, r *http.Request) {
	city, ok := requireCity(w, r)
	if !ok {
		return
	}
	category, ok := requireCategory(w, r)
	if !ok {
		return
	}
	rows, err := h.Reports.ProductsInCityCategory(city, category)
	writeRows(w, rows, err)
}

func (h *Handler) handleLocations(w http.ResponseWriter, r *http.Request) {
	category, ok := requireCategory(w, r)
	if !ok {
		return
	}
	rows, err := h.Reports.LocationsForCategory(category)
	writeRows(w, rows, err)
}

func requireCity(w http.ResponseWriter, r *http.Request) (string, bool) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	if city == "" {
		writeError(w, http.StatusBadRequest, "city parameter required")
		return "", false
	}
	return city, true
}

func requireCategory(w http.ResponseWriter, r *http.Request) (ident.ID, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("category"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "category parameter required")
		return ident.NaN, false
	}
	id := ident.Parse(raw)
	if !id.Valid() {
		writeError(w, http.StatusBadRequest, "category must be an integer id")
		return ident.NaN, false
	}
	return id, true
}

type exportRequest struct {
	Report      string   `json:"report"`
	City        string   `json:"city"`
	Category    ident.ID `json:"category"`
	Formats     []string `json:"formats"`
	RequestedBy string   `json:"requested_by"`
}

func (h *Handler) handleExports(w http.ResponseWriter, r *http.Request, path string) {
	if path == apiPrefix+"/exports" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleExportCreate(w, r)
		return
	}
	if !strings.HasPrefix(path, apiPrefix+"/exports/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(path, apiPrefix+"/exports/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	record, ok := h.Exports.GetExport(id)
	if !ok {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export": record})
}

func (h *Handler) handleExportCreate(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid export request payload")
		return
	}
	formats := make([]Format, 0, len(req.Formats))
	for _, f := range req.Formats {
		format, err := ParseFormat(f)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		formats = append(formats, format)
	}

	record, err := h.Exports.EnqueueExport(r.Context(), ExportRequest{
		Report:      Kind(strings.TrimSpace(req.Report)),
		City:        req.City,
		Category:    req.Category,
		Formats:     formats,
		RequestedBy: req.RequestedBy,
	})
	switch {
	case errors.Is(err, ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"export": record})
}

// writeRows wraps a result list as {"rows": [...]}, never null.
func writeRows[T any](w http.ResponseWriter, rows []T, err error) {
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if rows == nil {
		rows = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotLoaded) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
