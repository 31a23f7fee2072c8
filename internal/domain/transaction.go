package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// TransactionRecord is one data row of the transactions table.
// RowIndex is the 0-based position of the row below the header and is the key
// used for write-back; TransactionID is the logical identity.
type TransactionRecord struct {
	RowIndex int

	TransactionID       string
	OriginalDescription string // raw merchant string from the bank feed
	Description         string // human-cleaned description
	Category            string

	Date   civil.Date          // zero value when the column is absent or unparsable
	Amount decimal.NullDecimal // signed; Valid=false when absent

	AIFlag bool // set once the row has been machine-modified
}

// HasDate reports whether the record carries a usable transaction date.
func (r TransactionRecord) HasDate() bool {
	return r.Date.IsValid()
}

// MatchCandidate is a previously labeled transaction used as few-shot context.
type MatchCandidate struct {
	OriginalDescription string `json:"original_description"`
	UpdatedDescription  string `json:"updated_description"`
	Category            string `json:"category"`
}

// RequestItem is a single transaction sent to the classification oracle.
type RequestItem struct {
	TransactionID        string           `json:"transaction_id"`
	OriginalDescription  string           `json:"original_description"`
	TransactionDate      string           `json:"transaction_date,omitempty"`
	PlatformOrderDetails string           `json:"platform_order_details,omitempty"`
	PreviousTransactions []MatchCandidate `json:"previous_transactions"`
}

// Result is the oracle's suggestion for one transaction.
type Result struct {
	TransactionID      string `json:"transaction_id"`
	UpdatedDescription string `json:"updated_description"`
	Category           string `json:"category"`
}
