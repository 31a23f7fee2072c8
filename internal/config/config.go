package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v2"
)

// ErrInvalid is returned by Validate and Load when a configuration cannot run.
var ErrInvalid = errors.New("invalid configuration")

// Store backends.
const (
	BackendSheets   = "sheets"
	BackendXLSX     = "xlsx"
	BackendBigQuery = "bigquery"
	BackendNotion   = "notion"
	BackendMemory   = "memory"
)

// Classifier providers.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Numeric date orders for columns.date_order.
const (
	DateOrderMDY = "mdy"
	DateOrderDMY = "dmy"
)

// MaxCandidatesLimit caps the historical examples sent per transaction.
const MaxCandidatesLimit = 3

// DefaultFallbackCategory is written when the model's category is not in the catalog.
const DefaultFallbackCategory = "To Be Categorized"

// Config is the full set of knobs for one run. It is passed explicitly to
// constructors; nothing in the module reads process-wide state after Load.
type Config struct {
	Store            StoreConfig      `yaml:"store"`
	Tables           Tables           `yaml:"tables"`
	CategoryHeader   string           `yaml:"category_header"`
	Columns          Columns          `yaml:"columns"`
	FallbackCategory string           `yaml:"fallback_category"`
	MaxBatchSize     int              `yaml:"max_batch_size"`
	Classifier       ClassifierConfig `yaml:"classifier"`
	Enrichment       EnrichmentConfig `yaml:"enrichment"`
	Timeouts         Timeouts         `yaml:"timeouts"`
	Retry            RetryConfig      `yaml:"retry"`
	Matching         MatchingConfig   `yaml:"matching"`
	Lock             LockConfig       `yaml:"lock"`
	Reports          ReportConfig     `yaml:"reports"`
	DryRun           bool             `yaml:"dry_run"`
	LogLevel         string           `yaml:"log_level"`
}

type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	XLSX     XLSXConfig     `yaml:"xlsx"`
	BigQuery BigQueryConfig `yaml:"bigquery"`
	Notion   NotionConfig   `yaml:"notion"`
}

type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type XLSXConfig struct {
	Path string `yaml:"path"`
}

type BigQueryConfig struct {
	ProjectID string `yaml:"project_id"`
	Dataset   string `yaml:"dataset"`
	// KeyColumn addresses rows on write; it must be unique per table.
	KeyColumn  string `yaml:"key_column"`
	AuditTable string `yaml:"audit_table"`
}

type NotionConfig struct {
	Token string `yaml:"token"`
	// Databases maps a logical table name to a Notion database ID.
	Databases map[string]string `yaml:"databases"`
}

// Tables names the two tables a run touches.
type Tables struct {
	Transactions string `yaml:"transactions"`
	Categories   string `yaml:"categories"`
}

// Columns holds the header text of every column the pipeline reads or writes.
// Date, Amount and AIFlag are optional: a blank value or a header missing from
// the table disables the feature that needs it.
type Columns struct {
	ID                  string `yaml:"id"`
	OriginalDescription string `yaml:"original_description"`
	Description         string `yaml:"description"`
	Category            string `yaml:"category"`
	Date                string `yaml:"date"`
	Amount              string `yaml:"amount"`
	AIFlag              string `yaml:"ai_flag"`
	// DateOrder is how numeric dates such as 3/4/2024 are read: "mdy" or "dmy".
	DateOrder string `yaml:"date_order"`
}

type ClassifierConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

type EnrichmentConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	User            string `yaml:"user"`
	MaxChars        int    `yaml:"max_chars"`
	DaysBefore      int    `yaml:"days_before"`
	DaysAfter       int    `yaml:"days_after"`
}

// Timeouts bound every external call.
type Timeouts struct {
	Read     time.Duration `yaml:"read"`
	Classify time.Duration `yaml:"classify"`
	Lookup   time.Duration `yaml:"lookup"`
	Write    time.Duration `yaml:"write"`
}

// RetryConfig applies to reads, classifier calls and lookups. Writes never retry.
type RetryConfig struct {
	Attempts       int           `yaml:"attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type MatchingConfig struct {
	MaxCandidates int `yaml:"max_candidates"`
	KeyTokens     int `yaml:"key_tokens"`
	// ReuseThreshold in (0,1] snaps a proposed description onto a matched
	// candidate's description when they are at least this similar. 0 disables.
	ReuseThreshold float64 `yaml:"reuse_threshold"`
}

type LockConfig struct {
	Bucket string        `yaml:"bucket"`
	Object string        `yaml:"object"`
	TTL    time.Duration `yaml:"ttl"`
}

type ReportConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Backend: BackendSheets},
		Tables: Tables{
			Transactions: "Transactions",
			Categories:   "Categories",
		},
		CategoryHeader: "Category",
		Columns: Columns{
			ID:                  "Transaction ID",
			OriginalDescription: "Full Description",
			Description:         "Description",
			Category:            "Category",
			Date:                "Date",
			Amount:              "Amount",
			AIFlag:              "AI Modified",
			DateOrder:           DateOrderMDY,
		},
		FallbackCategory: DefaultFallbackCategory,
		MaxBatchSize:     50,
		Classifier: ClassifierConfig{
			Provider:    ProviderGemini,
			Model:       "gemini-2.5-flash",
			Temperature: 0.1,
			MaxTokens:   8192,
		},
		Enrichment: EnrichmentConfig{
			MaxChars:   1000,
			DaysBefore: 7,
			DaysAfter:  3,
		},
		Timeouts: Timeouts{
			Read:     30 * time.Second,
			Classify: 120 * time.Second,
			Lookup:   15 * time.Second,
			Write:    30 * time.Second,
		},
		Retry: RetryConfig{
			Attempts:       1,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
		},
		Matching: MatchingConfig{
			MaxCandidates: 3,
			KeyTokens:     3,
		},
		Lock: LockConfig{
			Object: "txn-tidy/run.lock",
			TTL:    30 * time.Minute,
		},
		Reports:  ReportConfig{Prefix: "txn-tidy/reports"},
		LogLevel: "info",
	}
}

// Load reads an optional .env file, the YAML file at path (skipped when path
// is empty), applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Load: reading %s: %w", path, err)
		}
		data = b
	}
	cfg, err := LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return cfg, nil
}

// LoadBytes is Load for YAML that did not come from the local filesystem.
func LoadBytes(data []byte) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("LoadBytes: reading .env: %w", err)
	}

	cfg := Default()
	if len(data) > 0 {
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("LoadBytes: %w", err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("LoadBytes: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the values already in cfg.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return fmt.Errorf("Parse: %w", err)
	}
	return nil
}

// ApplyEnv overrides secrets and a few deployment settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
		return "", false
	}

	switch c.Classifier.Provider {
	case ProviderAnthropic:
		if v, ok := get("ANTHROPIC_API_KEY"); ok {
			c.Classifier.APIKey = v
		}
	default:
		if v, ok := get("GEMINI_API_KEY", "GOOGLE_API_KEY"); ok {
			c.Classifier.APIKey = v
		}
	}
	if v, ok := get("NOTION_TOKEN"); ok {
		c.Store.Notion.Token = v
	}
	if v, ok := get("SPREADSHEET_ID"); ok {
		c.Store.Sheets.SpreadsheetID = v
	}
	if v, ok := get("GOOGLE_APPLICATION_CREDENTIALS"); ok {
		if c.Store.Sheets.CredentialsFile == "" {
			c.Store.Sheets.CredentialsFile = v
		}
		if c.Enrichment.CredentialsFile == "" {
			c.Enrichment.CredentialsFile = v
		}
	}
	if v, ok := get("TXN_TIDY_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
}

// Validate reports every field that would stop a run, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Store.Backend {
	case BackendSheets:
		if c.Store.Sheets.SpreadsheetID == "" {
			add("store.sheets.spreadsheet_id is required")
		}
	case BackendXLSX:
		if c.Store.XLSX.Path == "" {
			add("store.xlsx.path is required")
		}
	case BackendBigQuery:
		if c.Store.BigQuery.ProjectID == "" || c.Store.BigQuery.Dataset == "" {
			add("store.bigquery.project_id and dataset are required")
		}
	case BackendNotion:
		if c.Store.Notion.Token == "" {
			add("store.notion.token is required")
		}
		for _, table := range []string{c.Tables.Transactions, c.Tables.Categories} {
			if c.Store.Notion.Databases[table] == "" {
				add("store.notion.databases has no entry for table %q", table)
			}
		}
	case BackendMemory:
	default:
		add("store.backend %q is not supported", c.Store.Backend)
	}

	if c.Tables.Transactions == "" {
		add("tables.transactions is required")
	}
	if c.Tables.Categories == "" {
		add("tables.categories is required")
	}
	if strings.TrimSpace(c.CategoryHeader) == "" {
		add("category_header is required")
	}
	for name, v := range map[string]string{
		"columns.id":                   c.Columns.ID,
		"columns.original_description": c.Columns.OriginalDescription,
		"columns.description":          c.Columns.Description,
		"columns.category":             c.Columns.Category,
	} {
		if strings.TrimSpace(v) == "" {
			add("%s is required", name)
		}
	}
	switch strings.ToLower(c.Columns.DateOrder) {
	case "", DateOrderMDY, DateOrderDMY:
	default:
		add("columns.date_order %q must be %q or %q", c.Columns.DateOrder, DateOrderMDY, DateOrderDMY)
	}
	if strings.TrimSpace(c.FallbackCategory) == "" {
		add("fallback_category is required")
	}
	if c.MaxBatchSize < 1 {
		add("max_batch_size must be positive, got %d", c.MaxBatchSize)
	}

	switch c.Classifier.Provider {
	case ProviderGemini, ProviderAnthropic:
	default:
		add("classifier.provider %q is not supported", c.Classifier.Provider)
	}
	if c.Classifier.Model == "" {
		add("classifier.model is required")
	}

	if c.Enrichment.Enabled {
		if c.Enrichment.CredentialsFile == "" || c.Enrichment.User == "" {
			add("enrichment.credentials_file and enrichment.user are required when enrichment is enabled")
		}
		if c.Enrichment.MaxChars < 1 {
			add("enrichment.max_chars must be positive")
		}
	}

	if c.Store.BigQuery.AuditTable != "" && (c.Store.BigQuery.ProjectID == "" || c.Store.BigQuery.Dataset == "") {
		add("store.bigquery.project_id and dataset are required for audit_table")
	}

	if c.Timeouts.Read <= 0 || c.Timeouts.Classify <= 0 || c.Timeouts.Lookup <= 0 || c.Timeouts.Write <= 0 {
		add("timeouts must all be positive")
	}
	if c.Retry.Attempts < 0 {
		add("retry.attempts must not be negative")
	}
	if c.Matching.MaxCandidates < 1 || c.Matching.MaxCandidates > MaxCandidatesLimit {
		add("matching.max_candidates must be within [1, %d], got %d", MaxCandidatesLimit, c.Matching.MaxCandidates)
	}
	if c.Matching.KeyTokens < 1 {
		add("matching.key_tokens must be positive")
	}
	if c.Matching.ReuseThreshold < 0 || c.Matching.ReuseThreshold > 1 {
		add("matching.reuse_threshold must be within [0, 1]")
	}
	if c.Lock.Bucket != "" && (c.Lock.Object == "" || c.Lock.TTL <= 0) {
		add("lock.object and a positive lock.ttl are required when lock.bucket is set")
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}
