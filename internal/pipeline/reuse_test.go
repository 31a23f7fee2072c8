package pipeline

import (
	"testing"

	"github.com/dvloznov/txn-tidy/internal/domain"
)

func TestSnapToCandidate(t *testing.T) {
	candidates := []domain.MatchCandidate{
		{OriginalDescription: "SQ *COFFEE SHOP XX9999", UpdatedDescription: "Coffee Shop", Category: "Dining"},
		{OriginalDescription: "SQ *COFFEE SHOP ROASTERY", UpdatedDescription: "Coffee Shop Roastery", Category: "Groceries"},
	}

	tests := []struct {
		name      string
		proposed  string
		category  string
		threshold float64
		want      string
	}{
		{name: "disabled", proposed: "Coffee shop.", category: "Dining", threshold: 0, want: "Coffee shop."},
		{name: "close enough", proposed: "Coffee shop.", category: "Dining", threshold: 0.8, want: "Coffee Shop"},
		{name: "identical", proposed: "Coffee Shop", category: "Dining", threshold: 0.99, want: "Coffee Shop"},
		{name: "different category", proposed: "Coffee Shop Roastery", category: "Dining", threshold: 0.8, want: "Coffee Shop Roastery"},
		{name: "too different", proposed: "Costa", category: "Dining", threshold: 0.8, want: "Costa"},
		{name: "empty proposal", proposed: "", category: "Dining", threshold: 0.5, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := snapToCandidate(tt.proposed, tt.category, candidates, tt.threshold)
			if got != tt.want {
				t.Errorf("snapToCandidate(%q) = %q, want %q", tt.proposed, got, tt.want)
			}
		})
	}
}
