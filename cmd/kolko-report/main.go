// Command kolko-report serves the retail price reports over HTTP. With
// -check it loads the dataset once and prints the load statistics; with
// -publish it copies an ETL output directory into the configured document
// source.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kolkostruva/internal/adapters/reports"
	"kolkostruva/internal/blob"
	"kolkostruva/internal/config"
	"kolkostruva/internal/infra/documents/postgres"
	"kolkostruva/internal/infra/documents/sqlite"
	"kolkostruva/internal/ingest"
	"kolkostruva/internal/observability"
	"kolkostruva/internal/session"
)

var (
	exitFunc      = os.Exit
	notifyContext = signal.NotifyContext
)

const shutdownTimeout = 10 * time.Second

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("kolko-report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath string
		check      bool
		publishDir string
	)
	fs.StringVar(&configPath, "config", "", "path to a TOML config file")
	fs.BoolVar(&check, "check", false, "load the dataset, print statistics and exit")
	fs.StringVar(&publishDir, "publish", "", "copy the files of this directory into the document source and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	ctx, stop := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, stderr, prometheus.NewRegistry())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer a.close()

	switch {
	case publishDir != "":
		n, err := publish(ctx, a.publisher, publishDir)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "publish: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "published %d documents\n", n)
		return 0
	case check:
		if err := a.session.Load(ctx); err != nil {
			_, _ = fmt.Fprintf(stderr, "load: %v\n", err)
			return 1
		}
		stats, _ := a.session.Stats()
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			return 1
		}
		return 0
	}

	if err := a.serve(ctx, cfg.HTTP.Addr); err != nil {
		_, _ = fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}
	return 0
}

// documentPublisher writes a named document to the configured source.
type documentPublisher interface {
	Put(ctx context.Context, name string, r io.Reader) error
}

type app struct {
	logger    *observability.Logger
	metrics   *observability.PrometheusRecorder
	session   *session.Session
	worker    *reports.Worker
	handler   http.Handler
	publisher documentPublisher
	closers   []io.Closer
}

func build(ctx context.Context, cfg config.Config, logOut io.Writer, reg *prometheus.Registry) (*app, error) {
	logger := observability.NewLogrus(logOut, cfg.Log.Level, cfg.Log.Format)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewPrometheusRecorder(reg)

	store, err := blob.Open(ctx, blob.Options{
		Driver: blob.Driver(cfg.Blob.Driver),
		FSRoot: cfg.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          cfg.Blob.S3.Region,
			Bucket:          cfg.Blob.S3.Bucket,
			Prefix:          cfg.Blob.S3.Prefix,
			Endpoint:        cfg.Blob.S3.Endpoint,
			AccessKeyID:     cfg.Blob.S3.AccessKeyID,
			SecretAccessKey: cfg.Blob.S3.SecretAccessKey,
			PathStyle:       cfg.Blob.S3.PathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	a := &app{logger: logger, metrics: metrics}
	var fetcher ingest.Fetcher
	switch cfg.Source.Kind {
	case config.SourceSQLite:
		docs, err := sqlite.NewStore(ctx, cfg.Source.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, docs)
		fetcher, a.publisher = docs, docs
	case config.SourcePostgres:
		docs, err := postgres.NewStore(ctx, cfg.Source.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, docs)
		fetcher, a.publisher = docs, docs
	default:
		fetcher = ingest.NewBlobFetcher(store, cfg.Source.Prefix)
		a.publisher = blobPublisher{store: store, prefix: cfg.Source.Prefix}
	}

	loader, err := ingest.New(fetcher, ingest.Options{
		Layout:    ingest.Layout(cfg.Dataset.Layout),
		Facts:     cfg.Dataset.Facts,
		Delimiter: cfg.DelimiterRune(),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.session = session.New(loader,
		session.WithLogger(logger.With("component", "session")),
		session.WithMetrics(metrics),
		session.WithCacheSize(cfg.Session.CacheSize),
	)
	a.worker = reports.NewWorker(a.session, store,
		reports.WithPrefix(cfg.Exports.Prefix),
		reports.WithQueueSize(cfg.Exports.QueueSize),
		reports.WithWorkerLogger(logger.With("component", "exports")),
	)

	api := reports.NewHandler(a.session)
	api.Exports = a.worker
	mux := http.NewServeMux()
	mux.Handle("/api/v1/", metrics.Middleware("api", api))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	a.handler = mux
	return a, nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// serve loads the dataset and blocks until ctx is cancelled. SIGHUP reloads
// the dataset in place.
func (a *app) serve(ctx context.Context, addr string) error {
	if err := a.session.Load(ctx); err != nil {
		return err
	}
	a.worker.Start()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	srv := &http.Server{Addr: addr, Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	for {
		select {
		case <-hup:
			if err := a.session.Load(ctx); err != nil {
				a.logger.Error("reload failed", "error", err)
			}
		case err, ok := <-errCh:
			if ok {
				_ = a.worker.Stop(context.Background())
				return err
			}
			return nil
		case <-ctx.Done():
			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err := srv.Shutdown(shutdownCtx)
			if stopErr := a.worker.Stop(shutdownCtx); err == nil {
				err = stopErr
			}
			return err
		}
	}
}

type blobPublisher struct {
	store  blob.Store
	prefix string
}

// Put replaces the blob. The store is create-only, so the previous version is
// held in memory and written back if the new one cannot be stored.
func (p blobPublisher) Put(ctx context.Context, name string, r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	key := p.prefix + name
	prev, prevInfo, err := p.current(ctx, key)
	if err != nil {
		return err
	}
	if prev != nil {
		if _, err := p.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	if _, err := p.store.Put(ctx, key, bytes.NewReader(body), blob.PutOptions{}); err != nil {
		if prev == nil {
			return err
		}
		restore := blob.PutOptions{ContentType: prevInfo.ContentType, Metadata: prevInfo.Metadata}
		if _, rerr := p.store.Put(ctx, key, bytes.NewReader(prev), restore); rerr != nil {
			return fmt.Errorf("replace %s: %w (previous version lost: %v)", key, err, rerr)
		}
		return fmt.Errorf("replace %s: %w (previous version restored)", key, err)
	}
	return nil
}

// current returns the stored bytes under key, or nil when there are none.
func (p blobPublisher) current(ctx context.Context, key string) ([]byte, blob.Info, error) {
	info, rc, err := p.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, blob.Info{}, nil
	}
	if err != nil {
		return nil, blob.Info{}, err
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, blob.Info{}, err
	}
	if b == nil {
		b = []byte{}
	}
	return b, info, nil
}

func publish(ctx context.Context, dst documentPublisher, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return n, err
		}
		if err := dst.Put(ctx, e.Name(), bytes.NewReader(b)); err != nil {
			return n, fmt.Errorf("%s: %w", e.Name(), err)
		}
		n++
	}
	return n, nil
}
