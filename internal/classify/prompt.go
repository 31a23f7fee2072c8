package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/txn-tidy/internal/domain"
)

// BuildSystemPrompt lists the allowed categories verbatim and the rules for
// cleaning descriptions.
func BuildSystemPrompt(catalog *domain.Catalog, fallback string) string {
	var b strings.Builder

	b.WriteString("You clean up personal bank transactions.\n\n")
	b.WriteString("Each input item has a transaction_id, the raw bank original_description, ")
	b.WriteString("an optional transaction_date, optional platform_order_details taken from a receipt email, ")
	b.WriteString("and previous_transactions: earlier transactions with a similar description ")
	b.WriteString("together with the description and category the user gave them.\n\n")

	b.WriteString("Use ONLY the following categories:\n")
	for _, name := range catalog.Names() {
		b.WriteString("  - " + name + "\n")
	}
	b.WriteString("\n")

	b.WriteString("RULES:\n")
	b.WriteString("1. If a previous transaction clearly describes the same merchant, reuse its updated_description and category exactly.\n")
	b.WriteString("2. Otherwise write a short clean merchant name: drop punctuation, reference numbers, card masks, ")
	b.WriteString("legal suffixes (Ltd, Inc, LLC) and payment-processor prefixes (SQ *, TST*, PAYPAL *, AMZN Mktp).\n")
	b.WriteString("3. If platform_order_details is present, describe what was bought, e.g. \"Amazon - USB cable\".\n")
	b.WriteString("4. Category must be EXACTLY one of the category names above (case-sensitive).\n")
	fmt.Fprintf(&b, "5. If you are unsure of the category, use %q.\n", fallback)
	b.WriteString("6. Return one result for every input transaction_id and no others.\n\n")

	b.WriteString("Return ONLY valid raw JSON of the form:\n")
	b.WriteString(`{"suggested_transactions":[{"transaction_id":"...","updated_description":"...","category":"..."}]}`)
	b.WriteString("\nDo NOT wrap the response in code fences.\n")

	return b.String()
}

// userPayload is the JSON document sent as the user turn.
type userPayload struct {
	Transactions []domain.RequestItem `json:"transactions"`
}

// MarshalItems renders the batch as the user message.
func MarshalItems(items []domain.RequestItem) (string, error) {
	out := make([]domain.RequestItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].PreviousTransactions == nil {
			out[i].PreviousTransactions = []domain.MatchCandidate{}
		}
	}
	data, err := json.Marshal(userPayload{Transactions: out})
	if err != nil {
		return "", fmt.Errorf("MarshalItems: %w", err)
	}
	return string(data), nil
}
