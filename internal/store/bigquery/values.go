package bigquery

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-tidy/internal/schema"
	"github.com/shopspring/decimal"
)

// cellString renders a BigQuery value the way a spreadsheet would show it.
func cellString(v bigquery.Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case *big.Rat:
		d, err := decimal.NewFromString(x.FloatString(9))
		if err != nil {
			return x.FloatString(9)
		}
		return d.String()
	case civil.Date:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// paramValue converts a cell back to the column's type for a query parameter.
// Blank cells become typed NULLs.
func paramValue(f *bigquery.FieldSchema, v string) (interface{}, error) {
	v = strings.TrimSpace(v)
	switch f.Type {
	case bigquery.StringFieldType:
		return v, nil
	case bigquery.BooleanFieldType:
		if v == "" {
			return bigquery.NullBool{}, nil
		}
		return schema.ParseFlag(v), nil
	case bigquery.IntegerFieldType:
		if v == "" {
			return bigquery.NullInt64{}, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("paramValue: %w", err)
		}
		return n, nil
	case bigquery.FloatFieldType:
		if v == "" {
			return bigquery.NullFloat64{}, nil
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("paramValue: %w", err)
		}
		return n, nil
	case bigquery.NumericFieldType, bigquery.BigNumericFieldType:
		amount := schema.ParseAmount(v)
		if !amount.Valid {
			return nil, fmt.Errorf("paramValue: %q is not a number", v)
		}
		return amount.Decimal.Rat(), nil
	case bigquery.DateFieldType:
		if v == "" {
			return bigquery.NullDate{}, nil
		}
		d, ok := schema.ParseDate(v)
		if !ok {
			return nil, fmt.Errorf("paramValue: %q is not a date", v)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("paramValue: unsupported column type %s", f.Type)
	}
}
