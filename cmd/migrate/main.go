package main

import (
	"context"
	"crypto/sha256"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/txn-tidy/internal/app"
	"github.com/dvloznov/txn-tidy/internal/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Pattern to match migration files: 0001_name.sql
var filenamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func main() {
	configPath := flag.String("config", "txn-tidy.yaml", "Path or gs:// URI of the YAML configuration")
	appliedBy := flag.String("applied-by", "txn-tidy-migrate", "Name recorded against applied migrations")
	pending := flag.Bool("pending", false, "List pending migrations without applying them")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-config txn-tidy.yaml] [-pending]")
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	cfg, err := app.LoadConfig(ctx, *configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	bq := cfg.Store.BigQuery
	if bq.ProjectID == "" || bq.Dataset == "" || bq.AuditTable == "" {
		log.Fatal().Msg("store.bigquery.project_id, dataset and audit_table must be set")
	}

	migrations, err := readMigrations(embedded, map[string]string{
		"PROJECT_ID":  bq.ProjectID,
		"DATASET_ID":  bq.Dataset,
		"AUDIT_TABLE": bq.AuditTable,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}

	client, err := bigquery.NewClient(ctx, bq.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	m := &migrator{client: client, ref: "`" + bq.ProjectID + "." + bq.Dataset + ".schema_migrations`", appliedBy: *appliedBy}

	if err := m.ensureSchemaMigrationsTable(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema_migrations table")
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get applied migrations")
	}

	todo, err := pendingMigrations(migrations, applied)
	if err != nil {
		log.Fatal().Err(err).Msg("Applied migrations do not match the embedded set")
	}
	log.Info().Int("embedded", len(migrations)).Int("applied", len(applied)).Int("pending", len(todo)).Msg("Migration status")

	for _, mig := range todo {
		ev := log.Info().Int("version", mig.Version).Str("name", mig.Name)
		if *pending {
			ev.Msg("Pending")
			continue
		}
		if err := runQuery(ctx, client.Query(mig.SQL)); err != nil {
			log.Fatal().Err(err).Str("migration", mig.Filename).Msg("Failed to execute migration")
		}
		if err := m.recordMigration(ctx, mig); err != nil {
			log.Fatal().Err(err).Str("migration", mig.Filename).Msg("Failed to record migration")
		}
		ev.Msg("Applied")
	}
}

// readMigrations parses every NNNN_name.sql file in fsys, substituting
// {{KEY}} placeholders. Checksums cover the file before substitution so one
// migration set can be applied to several datasets.
func readMigrations(fsys fs.FS, vars map[string]string) ([]Migration, error) {
	files, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("readMigrations: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, path := range files {
		name := path[strings.LastIndex(path, "/")+1:]
		matches := filenamePattern.FindStringSubmatch(name)
		if matches == nil {
			return nil, fmt.Errorf("readMigrations: invalid migration filename %q", name)
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, fmt.Errorf("readMigrations: invalid version in %q: %w", name, err)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("readMigrations: version %04d used by %q and %q", version, prev, name)
		}
		seen[version] = name

		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("readMigrations: reading %s: %w", name, err)
		}

		sql := string(content)
		for k, v := range vars {
			sql = strings.ReplaceAll(sql, "{{"+k+"}}", v)
		}
		if strings.Contains(sql, "{{") {
			return nil, fmt.Errorf("readMigrations: unresolved placeholder in %s", name)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: name,
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// pendingMigrations returns the migrations not yet applied. An applied
// migration whose checksum changed is an error.
func pendingMigrations(all []Migration, applied []AppliedMigration) ([]Migration, error) {
	done := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		done[am.Version] = am
	}

	var out []Migration
	for _, m := range all {
		am, ok := done[m.Version]
		if !ok {
			out = append(out, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			return nil, fmt.Errorf("pendingMigrations: %s changed after it was applied", m.Filename)
		}
	}
	return out, nil
}

type migrator struct {
	client    *bigquery.Client
	ref       string
	appliedBy string
}

func (m *migrator) ensureSchemaMigrationsTable(ctx context.Context) error {
	q := m.client.Query(`
		CREATE TABLE IF NOT EXISTS ` + m.ref + ` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`)
	if err := runQuery(ctx, q); err != nil {
		return fmt.Errorf("ensureSchemaMigrationsTable: %w", err)
	}
	return nil
}

func (m *migrator) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	it, err := m.client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + m.ref + `
		ORDER BY version ASC
	`).Read(ctx)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("appliedMigrations: query read: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("appliedMigrations: iter next: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func (m *migrator) recordMigration(ctx context.Context, mig Migration) error {
	q := m.client.Query(`
		INSERT INTO ` + m.ref + `
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: mig.Version},
		{Name: "name", Value: mig.Name},
		{Name: "checksum", Value: mig.Checksum},
		{Name: "applied_by", Value: m.appliedBy},
	}
	if err := runQuery(ctx, q); err != nil {
		return fmt.Errorf("recordMigration: %w", err)
	}
	return nil
}

func runQuery(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
