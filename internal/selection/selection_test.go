package selection

import (
	"context"
	"testing"

	"github.com/dvloznov/txn-tidy/internal/domain"
	"github.com/dvloznov/txn-tidy/internal/logger"
)

const fallback = "To Be Categorized"

func TestNeedsProcessing(t *testing.T) {
	tests := []struct {
		name string
		row  domain.TransactionRecord
		want bool
	}{
		{
			name: "empty category",
			row:  domain.TransactionRecord{OriginalDescription: "TESCO", Description: "Tesco"},
			want: true,
		},
		{
			name: "whitespace category",
			row:  domain.TransactionRecord{OriginalDescription: "TESCO", Description: "Tesco", Category: "  "},
			want: true,
		},
		{
			name: "fallback category",
			row:  domain.TransactionRecord{OriginalDescription: "TESCO", Description: "Tesco", Category: fallback},
			want: true,
		},
		{
			name: "categorized with clean description",
			row:  domain.TransactionRecord{OriginalDescription: "SQ *COFFEE SHOP", Description: "Coffee Shop", Category: "Dining"},
			want: false,
		},
		{
			name: "platform with generic description",
			row:  domain.TransactionRecord{OriginalDescription: "AMZN Mktp US*2K4L83", Description: "Amazon", Category: "Shopping"},
			want: true,
		},
		{
			name: "platform with empty description",
			row:  domain.TransactionRecord{OriginalDescription: "PAYPAL *EBAY", Description: "", Category: "Shopping"},
			want: true,
		},
		{
			name: "platform with specific description",
			row:  domain.TransactionRecord{OriginalDescription: "AMZN Mktp US*2K4L83", Description: "Amazon - USB cable", Category: "Electronics"},
			want: false,
		},
		{
			name: "generic description without platform",
			row:  domain.TransactionRecord{OriginalDescription: "FPS CREDIT", Description: "Transfer", Category: "Transfers"},
			want: false,
		},
	}

	f := New(fallback)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.NeedsProcessing(tt.row); got != tt.want {
				t.Errorf("NeedsProcessing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	rows := []domain.TransactionRecord{
		{RowIndex: 0, TransactionID: "T0", OriginalDescription: "SQ *COFFEE SHOP XX9999", Description: "Coffee Shop", Category: "Dining"},
		{RowIndex: 1, TransactionID: "T1", OriginalDescription: "SQ *COFFEE SHOP XX1234"},
		{RowIndex: 2, TransactionID: "", OriginalDescription: "MYSTERY"},
		{RowIndex: 3, TransactionID: "T1", OriginalDescription: "DUPLICATE"},
		{RowIndex: 4, TransactionID: "T4", OriginalDescription: "TESCO", Category: fallback},
	}

	ctx := logger.WithContext(context.Background(), logger.Discard())
	got := New(fallback).Select(ctx, rows)

	var indexes []int
	for _, r := range got {
		indexes = append(indexes, r.RowIndex)
	}
	if len(indexes) != 2 || indexes[0] != 1 || indexes[1] != 4 {
		t.Errorf("Select() row indexes = %v, want [1 4]", indexes)
	}
}

func TestSelect_DuplicateOfProcessedRow(t *testing.T) {
	rows := []domain.TransactionRecord{
		{RowIndex: 0, TransactionID: "T1", OriginalDescription: "TESCO", Description: "Tesco", Category: "Groceries"},
		{RowIndex: 1, TransactionID: "T1", OriginalDescription: "TESCO"},
	}

	ctx := logger.WithContext(context.Background(), logger.Discard())
	if got := New(fallback).Select(ctx, rows); len(got) != 0 {
		t.Errorf("Select() = %+v, want no rows", got)
	}
}
