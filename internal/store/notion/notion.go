package notion

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/txn-tidy/internal/schema"
	"github.com/dvloznov/txn-tidy/internal/store"
	"github.com/jomei/notionapi"
)

// pageSize is the largest page the Notion query API returns.
const pageSize = 100

// NotionService is the subset of the Notion API the store needs.
type NotionService interface {
	QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
}

// NotionClient implements NotionService with the Notion SDK.
type NotionClient struct {
	client *notionapi.Client
}

// NewNotionClient creates a new NotionClient with the provided integration token.
func NewNotionClient(token string) *NotionClient {
	return &NotionClient{client: notionapi.NewClient(notionapi.Token(token))}
}

// QueryDatabase queries a Notion database with the given request.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	resp, err := n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}
	return resp, nil
}

// UpdatePage updates an existing Notion page with the given properties.
func (n *NotionClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	page, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Properties: properties})
	if err != nil {
		return nil, fmt.Errorf("UpdatePage: %w", err)
	}
	return page, nil
}

// Store maps table names to Notion databases. Property names form the header
// and each page is a row.
type Store struct {
	service   NotionService
	databases map[string]string

	mu        sync.Mutex
	snapshots map[string]*snapshot
}

type snapshot struct {
	header []string
	pages  []notionapi.Page
	rows   [][]string
}

// New creates a store. databases maps a table name to a database ID.
func New(service NotionService, databases map[string]string) *Store {
	return &Store{
		service:   service,
		databases: databases,
		snapshots: make(map[string]*snapshot),
	}
}

// ReadTable reads every page of the database mapped to name. The header is
// the sorted set of property names; cells are the properties rendered as text.
func (s *Store) ReadTable(ctx context.Context, name string) (*store.Table, error) {
	dbID, ok := s.databases[name]
	if !ok || dbID == "" {
		return nil, fmt.Errorf("ReadTable: %w: %q", store.ErrTableNotFound, name)
	}

	pages, err := queryAllPages(ctx, s.service, dbID)
	if err != nil {
		return nil, fmt.Errorf("ReadTable: %w", err)
	}

	header := propertyNames(pages)
	rows := make([][]string, len(pages))
	for i, page := range pages {
		row := make([]string, len(header))
		for j, prop := range header {
			row[j] = propertyText(page.Properties[prop])
		}
		rows[i] = row
	}

	s.mu.Lock()
	s.snapshots[name] = &snapshot{header: header, pages: pages, rows: rows}
	s.mu.Unlock()

	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return &store.Table{Name: name, Header: header, Rows: out}, nil
}

// WriteRow updates the properties of the page whose cells changed since the
// last read.
func (s *Store) WriteRow(ctx context.Context, name string, rowIndex int, values []string) error {
	s.mu.Lock()
	snap, ok := s.snapshots[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("WriteRow: table %q has not been read", name)
	}
	if rowIndex < 0 || rowIndex >= len(snap.pages) {
		return fmt.Errorf("WriteRow: row index %d out of range", rowIndex)
	}

	page := snap.pages[rowIndex]
	props := notionapi.Properties{}
	for i, prop := range snap.header {
		if i >= len(values) || values[i] == snap.rows[rowIndex][i] {
			continue
		}
		p, err := propertyValue(page.Properties[prop], values[i])
		if err != nil {
			return fmt.Errorf("WriteRow: property %q: %w", prop, err)
		}
		props[prop] = p
	}
	if len(props) == 0 {
		return nil
	}

	if _, err := s.service.UpdatePage(ctx, string(page.ID), props); err != nil {
		return fmt.Errorf("WriteRow: %w", err)
	}

	s.mu.Lock()
	for i := range snap.header {
		if i < len(values) {
			snap.rows[rowIndex][i] = values[i]
		}
	}
	s.mu.Unlock()
	return nil
}

// Close is a no-op; the Notion client holds no open resources.
func (s *Store) Close() error {
	return nil
}

// queryAllPages handles pagination.
func queryAllPages(ctx context.Context, service NotionService, databaseID string) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: pageSize}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := service.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllPages: %w", err)
		}
		all = append(all, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return all, nil
}

// propertyNames is the sorted union of property names across pages.
func propertyNames(pages []notionapi.Page) []string {
	seen := make(map[string]bool)
	var names []string
	for _, page := range pages {
		for name := range page.Properties {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func plainText(rt []notionapi.RichText) string {
	var b strings.Builder
	for _, r := range rt {
		b.WriteString(r.PlainText)
	}
	return b.String()
}

// propertyText flattens a property to its displayed text.
func propertyText(p notionapi.Property) string {
	switch prop := p.(type) {
	case *notionapi.TitleProperty:
		return plainText(prop.Title)
	case *notionapi.RichTextProperty:
		return plainText(prop.RichText)
	case *notionapi.SelectProperty:
		return prop.Select.Name
	case *notionapi.NumberProperty:
		return strconv.FormatFloat(prop.Number, 'f', -1, 64)
	case *notionapi.CheckboxProperty:
		if prop.Checkbox {
			return "TRUE"
		}
		return "FALSE"
	case *notionapi.DateProperty:
		if prop.Date == nil || prop.Date.Start == nil {
			return ""
		}
		return time.Time(*prop.Date.Start).Format("2006-01-02")
	case *notionapi.URLProperty:
		return prop.URL
	case *notionapi.EmailProperty:
		return prop.Email
	default:
		return ""
	}
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

// propertyValue builds an update for an existing property, keeping its type.
func propertyValue(current notionapi.Property, v string) (notionapi.Property, error) {
	switch current.(type) {
	case *notionapi.TitleProperty:
		return notionapi.TitleProperty{Title: richText(v)}, nil
	case *notionapi.RichTextProperty, nil:
		return notionapi.RichTextProperty{RichText: richText(v)}, nil
	case *notionapi.SelectProperty:
		return notionapi.SelectProperty{Select: notionapi.Option{Name: v}}, nil
	case *notionapi.CheckboxProperty:
		return notionapi.CheckboxProperty{Checkbox: schema.ParseFlag(v)}, nil
	case *notionapi.NumberProperty:
		amount := schema.ParseAmount(v)
		if !amount.Valid {
			return nil, fmt.Errorf("propertyValue: %q is not a number", v)
		}
		f, _ := amount.Decimal.Float64()
		return notionapi.NumberProperty{Number: f}, nil
	case *notionapi.DateProperty:
		d, ok := schema.ParseDate(v)
		if !ok {
			return nil, fmt.Errorf("propertyValue: %q is not a date", v)
		}
		start := notionapi.Date(d.In(time.UTC))
		return notionapi.DateProperty{Date: &notionapi.DateObject{Start: &start}}, nil
	case *notionapi.URLProperty:
		return notionapi.URLProperty{URL: v}, nil
	default:
		return nil, fmt.Errorf("propertyValue: unsupported property type %T", current)
	}
}
