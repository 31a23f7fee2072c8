package bigquery

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-tidy/internal/domain"
)

var testSchema = bigquery.Schema{
	{Name: "transaction_id", Type: bigquery.StringFieldType},
	{Name: "description", Type: bigquery.StringFieldType},
	{Name: "category", Type: bigquery.StringFieldType},
	{Name: "amount", Type: bigquery.NumericFieldType},
	{Name: "ai_modified", Type: bigquery.BooleanFieldType},
}

func TestBuildUpdate(t *testing.T) {
	current := []string{"T1", "", "", "4.5", ""}
	values := []string{"T1", "Coffee Shop", "Dining", "4.5", "TRUE"}

	sql, params, err := buildUpdate("`p.d.transactions`", testSchema, "transaction_id", current, values)
	if err != nil {
		t.Fatalf("buildUpdate() error = %v", err)
	}

	want := "UPDATE `p.d.transactions` SET `description` = @p0, `category` = @p1, `ai_modified` = @p2 WHERE `transaction_id` = @key"
	if sql != want {
		t.Errorf("buildUpdate() sql = %q, want %q", sql, want)
	}
	if len(params) != 4 {
		t.Fatalf("len(params) = %d, want 4", len(params))
	}
	if params[2].Value != true {
		t.Errorf("ai_modified param = %v, want true", params[2].Value)
	}
	if params[3].Name != "key" || params[3].Value != "T1" {
		t.Errorf("key param = %+v, want key=T1", params[3])
	}
}

func TestBuildSelect(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{name: "key column", key: "transaction_id", want: "SELECT * FROM `p.d.t` ORDER BY `transaction_id`"},
		{name: "key column any case", key: "Transaction_ID", want: "SELECT * FROM `p.d.t` ORDER BY `transaction_id`"},
		{name: "no key column", key: "Transaction ID", want: "SELECT * FROM `p.d.t` AS t ORDER BY TO_JSON_STRING(t)"},
		{name: "no key configured", key: "", want: "SELECT * FROM `p.d.t` AS t ORDER BY TO_JSON_STRING(t)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSelect("`p.d.t`", testSchema, tt.key); got != tt.want {
				t.Errorf("buildSelect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildUpdate_NoChanges(t *testing.T) {
	row := []string{"T1", "Coffee Shop", "Dining", "4.5", "TRUE"}
	sql, params, err := buildUpdate("`p.d.t`", testSchema, "transaction_id", row, row)
	if err != nil {
		t.Fatalf("buildUpdate() error = %v", err)
	}
	if sql != "" || params != nil {
		t.Errorf("buildUpdate() = %q, %v, want empty", sql, params)
	}
}

func TestBuildUpdate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		current []string
		values  []string
	}{
		{name: "unknown key column", key: "id", current: []string{"T1"}, values: []string{"T1", "x"}},
		{name: "blank key", key: "transaction_id", current: []string{""}, values: []string{"", "x"}},
		{name: "bad numeric", key: "transaction_id", current: []string{"T1", "", "", "1"}, values: []string{"T1", "", "", "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := buildUpdate("`p.d.t`", testSchema, tt.key, tt.current, tt.values); err == nil {
				t.Error("buildUpdate() error = nil, want error")
			}
		})
	}
}

func TestCellString(t *testing.T) {
	tests := []struct {
		name string
		in   bigquery.Value
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "string", in: "Tesco", want: "Tesco"},
		{name: "bool", in: true, want: "TRUE"},
		{name: "int", in: int64(42), want: "42"},
		{name: "float", in: 4.5, want: "4.5"},
		{name: "numeric", in: big.NewRat(1234, 100), want: "12.34"},
		{name: "date", in: civil.Date{Year: 2024, Month: time.March, Day: 5}, want: "2024-03-05"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cellString(tt.in); got != tt.want {
				t.Errorf("cellString(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParamValue(t *testing.T) {
	date := &bigquery.FieldSchema{Name: "d", Type: bigquery.DateFieldType}
	got, err := paramValue(date, "2024-03-05")
	if err != nil {
		t.Fatalf("paramValue() error = %v", err)
	}
	if got != (civil.Date{Year: 2024, Month: time.March, Day: 5}) {
		t.Errorf("paramValue() = %v, want 2024-03-05", got)
	}

	got, err = paramValue(date, "")
	if err != nil {
		t.Fatalf("paramValue() error = %v", err)
	}
	if got != (bigquery.NullDate{}) {
		t.Errorf("paramValue(blank) = %v, want NULL", got)
	}

	geo := &bigquery.FieldSchema{Name: "g", Type: bigquery.GeographyFieldType}
	if _, err := paramValue(geo, "POINT(0 0)"); err == nil {
		t.Error("paramValue(GEOGRAPHY) error = nil, want error")
	}
}

func TestTableRef(t *testing.T) {
	got, err := tableRef("proj", "finance", "transactions")
	if err != nil {
		t.Fatalf("tableRef() error = %v", err)
	}
	if got != "`proj.finance.transactions`" {
		t.Errorf("tableRef() = %q", got)
	}
	if _, err := tableRef("proj", "finance", "bad`name"); err == nil {
		t.Error("tableRef() error = nil, want error")
	}
}

func TestAuditParams(t *testing.T) {
	rec := domain.AuditRecord{RunID: "run-1", Batch: 2, Provider: "gemini/gemini-2.5-flash", ItemCount: 50, RawOutput: "{}", CreatedAt: time.Unix(0, 0).UTC()}
	params := auditParams(rec)

	byName := make(map[string]interface{}, len(params))
	for _, p := range params {
		byName[p.Name] = p.Value
	}
	if byName["run_id"] != "run-1" || byName["batch_no"] != int64(2) || byName["item_count"] != int64(50) {
		t.Errorf("auditParams() = %v", byName)
	}
	if id, _ := byName["output_id"].(string); strings.TrimSpace(id) == "" {
		t.Error("auditParams() output_id is empty")
	}
}
