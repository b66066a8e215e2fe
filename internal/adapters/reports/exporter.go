package reports

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"kolkostruva/internal/blob"
	"kolkostruva/internal/ident"
	"kolkostruva/internal/report"
	"kolkostruva/internal/session"
)

// Kind names an exportable report.
type Kind string

const (
	KindPriceByCategory Kind = "price-by-category"
	KindProducts        Kind = "products"
	KindLocations       Kind = "locations"
)

// Format is an export output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
	FormatPNG  Format = "png"
	FormatXLSX Format = "xlsx"
)

var contentTypes = map[Format]string{
	FormatJSON: "application/json",
	FormatCSV:  "text/csv",
	FormatHTML: "text/html",
	FormatPNG:  "image/png",
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ParseFormat normalises a user supplied format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := contentTypes[f]; !ok {
		return "", fmt.Errorf("unsupported export format %q", s)
	}
	return f, nil
}

// ExportStatus describes the lifecycle stage of an export request.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

var (
	// ErrQueueFull is returned when the worker cannot accept more requests.
	ErrQueueFull = errors.New("export queue full")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid export request")
)

// ExportArtifact is one stored rendering of a report.
type ExportArtifact struct {
	Format      Format    `json:"format"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExportRequest selects the report and formats to export.
type ExportRequest struct {
	Report      Kind     `json:"report"`
	City        string   `json:"city,omitempty"`
	Category    ident.ID `json:"category"`
	Formats     []Format `json:"formats"`
	RequestedBy string   `json:"requested_by,omitempty"`
}

// ExportRecord tracks an export request and its artifacts.
type ExportRecord struct {
	ID          string           `json:"id"`
	Request     ExportRequest    `json:"request"`
	Date        string           `json:"date,omitempty"`
	Rows        int              `json:"rows"`
	Status      ExportStatus     `json:"status"`
	Error       string           `json:"error,omitempty"`
	Artifacts   []ExportArtifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ExportScheduler queues export requests and exposes their status.
type ExportScheduler interface {
	EnqueueExport(ctx context.Context, req ExportRequest) (ExportRecord, error)
	GetExport(id string) (ExportRecord, bool)
}

// DefaultQueueSize bounds pending exports.
const DefaultQueueSize = 16

// DefaultPrefix is where artifacts are written in the blob store.
const DefaultPrefix = "exports/"

// WorkerOption customises a Worker.
type WorkerOption func(*Worker)

// WithPrefix sets the blob key prefix for artifacts.
func WithPrefix(prefix string) WorkerOption {
	return func(w *Worker) { w.prefix = prefix }
}

// WithQueueSize sets the queue capacity; values below 1 are ignored.
func WithQueueSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithWorkerLogger sets the worker logger.
func WithWorkerLogger(l session.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithWorkerClock sets the time source used for record timestamps.
func WithWorkerClock(c session.Clock) WorkerOption {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// Worker renders exports asynchronously and stores the artifacts.
type Worker struct {
	reports   Snapshots
	store     blob.Store
	prefix    string
	queueSize int
	logger    session.Logger
	clock     session.Clock

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

// NewWorker constructs an export worker. Call Start to begin processing.
func NewWorker(r Snapshots, store blob.Store, opts ...WorkerOption) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		reports:   r,
		store:     store,
		prefix:    DefaultPrefix,
		queueSize: DefaultQueueSize,
		logger:    discardLogger{},
		clock:     session.ClockFunc(func() time.Time { return time.Now().UTC() }),
		jobs:      make(map[string]*ExportRecord),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = make(chan string, w.queueSize)
	return w
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// EnqueueExport validates req and queues it. Formats default to json and csv.
func (w *Worker) EnqueueExport(_ context.Context, req ExportRequest) (ExportRecord, error) {
	if err := validate(&req); err != nil {
		return ExportRecord{}, err
	}

	id := newID()
	now := w.clock.Now()
	record := ExportRecord{
		ID:        id,
		Request:   req,
		Status:    ExportStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queued := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- id:
	default:
		w.mu.Lock()
		delete(w.jobs, id)
		w.mu.Unlock()
		return ExportRecord{}, ErrQueueFull
	}
	w.logger.Debug("export queued", "id", id, "report", req.Report)
	return queued, nil
}

func validate(req *ExportRequest) error {
	req.City = strings.TrimSpace(req.City)
	switch req.Report {
	case KindPriceByCategory:
		if req.City == "" {
			return fmt.Errorf("%w: city required", ErrInvalidRequest)
		}
	case KindProducts:
		if req.City == "" || !req.Category.Valid() {
			return fmt.Errorf("%w: city and category required", ErrInvalidRequest)
		}
	case KindLocations:
		if !req.Category.Valid() {
			return fmt.Errorf("%w: category required", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown report %q", ErrInvalidRequest, req.Report)
	}

	formats := req.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{}, len(formats))
	for _, f := range formats {
		if _, ok := contentTypes[f]; !ok {
			return fmt.Errorf("%w: unsupported format %q", ErrInvalidRequest, f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		uniq = append(uniq, f)
	}
	req.Formats = uniq
	return nil
}

// GetExport returns a snapshot of the export record.
func (w *Worker) GetExport(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(id string) {
	w.mu.Lock()
	record, ok := w.jobs[id]
	if !ok {
		w.mu.Unlock()
		return
	}
	req := record.Request
	record.Status = ExportStatusRunning
	record.UpdatedAt = w.clock.Now()
	w.mu.Unlock()

	date, t, err := w.build(req)
	if err != nil {
		w.fail(id, fmt.Sprintf("run report: %v", err))
		return
	}

	artifacts := make([]ExportArtifact, 0, len(req.Formats))
	for _, format := range req.Formats {
		payload, err := render(format, t)
		if err != nil {
			w.fail(id, err.Error())
			return
		}
		artifact, err := w.put(id, format, payload, date, req)
		if err != nil {
			w.fail(id, fmt.Sprintf("store artifact failed: %v", err))
			return
		}
		artifacts = append(artifacts, artifact)
	}
	w.complete(id, date, len(t.Rows), artifacts)
}

// build runs the requested report and titles it with the date of the view the
// rows came from.
func (w *Worker) build(req ExportRequest) (string, table, error) {
	switch req.Report {
	case KindPriceByCategory:
		date, rows, err := w.reports.PriceByCategoryAt(req.City)
		if err != nil {
			return "", table{}, err
		}
		title := fmt.Sprintf("Средни цени по категории, %s, %s", req.City, report.FormatDateBG(date))
		return date, priceByCategoryTable(title, rows), nil
	case KindProducts:
		date, rows, err := w.reports.ProductsInCityCategoryAt(req.City, req.Category)
		if err != nil {
			return "", table{}, err
		}
		title := fmt.Sprintf("Продукти в категория %s, %s, %s", req.Category, req.City, report.FormatDateBG(date))
		return date, pricedTable(title, rows), nil
	case KindLocations:
		date, rows, err := w.reports.LocationsForCategoryAt(req.Category)
		if err != nil {
			return "", table{}, err
		}
		title := fmt.Sprintf("Обекти за категория %s, %s", req.Category, report.FormatDateBG(date))
		return date, pricedTable(title, rows), nil
	default:
		return "", table{}, fmt.Errorf("unknown report %q", req.Report)
	}
}

func (w *Worker) put(id string, format Format, payload []byte, date string, req ExportRequest) (ExportArtifact, error) {
	key := path.Join(w.prefix, id, string(req.Report)+"."+string(format))
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentTypes[format],
		Metadata: map[string]string{
			"export": id,
			"report": string(req.Report),
			"date":   date,
		},
	})
	if err != nil {
		return ExportArtifact{}, err
	}
	artifact := ExportArtifact{
		Format:      format,
		Key:         info.Key,
		ContentType: contentTypes[format],
		SizeBytes:   info.Size,
		CreatedAt:   w.clock.Now(),
	}
	if artifact.SizeBytes == 0 {
		artifact.SizeBytes = int64(len(payload))
	}
	if url, err := w.store.PresignURL(w.ctx, info.Key, blob.SignedURLOptions{}); err == nil {
		artifact.URL = url
	}
	return artifact, nil
}

func (w *Worker) complete(id, date string, rows int, artifacts []ExportArtifact) {
	now := w.clock.Now()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusSucceeded
		record.Error = ""
		record.Date = date
		record.Rows = rows
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Info("export completed", "id", id, "date", date, "artifacts", len(artifacts))
}

func (w *Worker) fail(id, reason string) {
	now := w.clock.Now()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Warn("export failed", "id", id, "error", reason)
}

func (r ExportRecord) copy() ExportRecord {
	dup := r
	dup.Request.Formats = append([]Format(nil), r.Request.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]ExportArtifact(nil), r.Artifacts...)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		dup.CompletedAt = &t
	}
	return dup
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", b[:])
}
