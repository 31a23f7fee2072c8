package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/txn-tidy/internal/classify"
	"github.com/dvloznov/txn-tidy/internal/config"
	"github.com/dvloznov/txn-tidy/internal/enrich"
	"github.com/dvloznov/txn-tidy/internal/gcs"
	"github.com/dvloznov/txn-tidy/internal/logger"
	"github.com/dvloznov/txn-tidy/internal/pipeline"
	"github.com/dvloznov/txn-tidy/internal/retry"
	"github.com/dvloznov/txn-tidy/internal/store"
	bqstore "github.com/dvloznov/txn-tidy/internal/store/bigquery"
	"github.com/dvloznov/txn-tidy/internal/store/notion"
	"github.com/dvloznov/txn-tidy/internal/store/sheets"
	"github.com/dvloznov/txn-tidy/internal/store/xlsx"
)

// App holds everything one configuration needs to run.
type App struct {
	Config  *config.Config
	Deps    pipeline.Deps
	Objects gcs.ObjectStore

	locker  *gcs.Locker
	closers []func() error
}

// Result is the outcome of a completed run.
type Result struct {
	Stats     *pipeline.RunStats
	ReportURI string
}

// LoadConfig reads a configuration from a local path or a gs:// URI.
func LoadConfig(ctx context.Context, path string) (*config.Config, error) {
	if !gcs.IsURI(path) {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("LoadConfig: %w", err)
		}
		return cfg, nil
	}

	objects, err := gcs.NewGCSObjectStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadConfig: %w", err)
	}
	defer objects.Close()

	data, err := gcs.Fetch(ctx, objects, path)
	if err != nil {
		return nil, fmt.Errorf("LoadConfig: %w", err)
	}
	cfg, err := config.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("LoadConfig: %s: %w", path, err)
	}
	return cfg, nil
}

// OpenStore opens the configured tabular store.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSheets:
		s, err := sheets.New(ctx, cfg.Store.Sheets.SpreadsheetID, cfg.Store.Sheets.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return s, nil
	case config.BackendXLSX:
		s, err := xlsx.Open(cfg.Store.XLSX.Path)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return s, nil
	case config.BackendBigQuery:
		key := cfg.Store.BigQuery.KeyColumn
		if key == "" {
			key = cfg.Columns.ID
		}
		s, err := bqstore.New(ctx, cfg.Store.BigQuery.ProjectID, cfg.Store.BigQuery.Dataset, key)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return s, nil
	case config.BackendNotion:
		return notion.New(notion.NewNotionClient(cfg.Store.Notion.Token), cfg.Store.Notion.Databases), nil
	case config.BackendMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("OpenStore: backend %q is not supported", cfg.Store.Backend)
	}
}

// New opens the store and builds the classifier plus every optional
// collaborator the configuration enables.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}
	a.Deps.Store = st
	a.closers = append(a.closers, st.Close)

	classifier, err := classify.New(ctx, cfg.Classifier)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("New: %w", err)
	}
	a.Deps.Classifier = classifier

	if cfg.Enrichment.Enabled {
		mail, err := enrich.NewGmail(ctx, cfg.Enrichment.CredentialsFile, cfg.Enrichment.User)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		e := enrich.New(mail, retry.NewPolicy(cfg.Timeouts.Lookup, cfg.Retry))
		e.MaxChars = cfg.Enrichment.MaxChars
		e.DaysBefore = cfg.Enrichment.DaysBefore
		e.DaysAfter = cfg.Enrichment.DaysAfter
		a.Deps.Enricher = e
	}

	if bq := cfg.Store.BigQuery; bq.AuditTable != "" {
		var client *bigquery.Client
		if s, ok := st.(*bqstore.Store); ok {
			client = s.Client()
		} else {
			client, err = bigquery.NewClient(ctx, bq.ProjectID)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("New: bigquery client: %w", err)
			}
			a.closers = append(a.closers, client.Close)
		}
		sink, err := bqstore.NewAuditSink(client, bq.ProjectID, bq.Dataset, bq.AuditTable)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.Deps.Audit = sink
	}

	if cfg.Lock.Bucket != "" || cfg.Reports.Bucket != "" {
		objects, err := gcs.NewGCSObjectStore(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.closers = append(a.closers, objects.Close)
		a.Objects = objects
	}
	a.initLock()

	return a, nil
}

// NewWithDeps assembles an App from ready-made collaborators. objects may be
// nil when neither the lock nor reports are configured.
func NewWithDeps(cfg *config.Config, deps pipeline.Deps, objects gcs.ObjectStore) *App {
	a := &App{Config: cfg, Deps: deps, Objects: objects}
	a.initLock()
	return a
}

func (a *App) initLock() {
	if a.Config.Lock.Bucket != "" && a.Objects != nil {
		a.locker = gcs.NewLocker(a.Objects, a.Config.Lock.Bucket, a.Config.Lock.Object, a.Config.Lock.TTL)
	}
}

// Run holds the run lock (when configured) for the whole pipeline, refreshing
// it while the run lasts, and uploads
// the run report afterwards. Report upload failures are logged, not returned.
func (a *App) Run(ctx context.Context) (*Result, error) {
	log := logger.FromContext(ctx)

	if a.locker != nil {
		lock, err := a.locker.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("Run: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Msg("Failed to release run lock")
			}
		}()
		// Refreshing at a third of the TTL survives one failed refresh.
		stop := lock.KeepAlive(ctx, a.Config.Lock.TTL/3)
		defer stop()
	}

	stats, err := pipeline.Run(ctx, a.Config, a.Deps)
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	res := &Result{Stats: stats}

	if a.Config.Reports.Bucket != "" && a.Objects != nil {
		uri, err := gcs.UploadReport(context.WithoutCancel(ctx), a.Objects, a.Config.Reports.Bucket, a.Config.Reports.Prefix, stats.RunID, stats.StartedAt, stats)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to upload run report")
		} else {
			res.ReportURI = uri
			log.Info().Str("report", uri).Msg("Uploaded run report")
		}
	}
	return res, nil
}

// Close releases every client New opened, in reverse order. The xlsx store
// saves its workbook here.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = fmt.Errorf("Close: %w", err)
		}
	}
	a.closers = nil
	return first
}
