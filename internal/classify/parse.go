package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/txn-tidy/internal/domain"
)

type rawResponse struct {
	SuggestedTransactions *[]domain.Result `json:"suggested_transactions"`
	Error                 json.RawMessage  `json:"error"`
}

// ParseResponse decodes model output. Markdown fences and text around the
// JSON object are tolerated; an error payload or a missing
// suggested_transactions field is an ErrOracle.
func ParseResponse(raw string) (*Response, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return nil, fmt.Errorf("ParseResponse: %w: empty response", ErrOracle)
	}

	var parsed rawResponse
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, fmt.Errorf("ParseResponse: %w: unmarshal JSON: %w", ErrOracle, err)
	}

	if len(parsed.Error) > 0 && string(parsed.Error) != "null" {
		return nil, fmt.Errorf("ParseResponse: %w: model returned error %s", ErrOracle, string(parsed.Error))
	}
	if parsed.SuggestedTransactions == nil {
		return nil, fmt.Errorf("ParseResponse: %w: missing suggested_transactions", ErrOracle)
	}

	results := *parsed.SuggestedTransactions
	for i := range results {
		results[i].TransactionID = strings.TrimSpace(results[i].TransactionID)
	}
	return &Response{SuggestedTransactions: results, Raw: raw}, nil
}

// cleanModelJSON strips Markdown fences and keeps the outermost JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
