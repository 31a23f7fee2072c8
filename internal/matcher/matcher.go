package matcher

import (
	"sort"
	"strings"

	"github.com/dvloznov/txn-tidy/internal/domain"
	"github.com/dvloznov/txn-tidy/internal/normalize"
)

// DefaultMaxCandidates caps the few-shot examples attached to one request item.
// Larger limits are clamped to it.
const DefaultMaxCandidates = 3

// Matcher finds previously labeled rows whose descriptions share a match key.
type Matcher struct {
	Normalizer    *normalize.Normalizer
	MaxCandidates int
	// Fallback is the placeholder category; rows carrying it are not labeled.
	Fallback string
}

// New returns a Matcher using n, which may be nil for the default normalizer.
func New(n *normalize.Normalizer, maxCandidates int, fallback string) *Matcher {
	if n == nil {
		n = normalize.New(normalize.DefaultKeyTokens)
	}
	if maxCandidates <= 0 || maxCandidates > DefaultMaxCandidates {
		maxCandidates = DefaultMaxCandidates
	}
	return &Matcher{Normalizer: n, MaxCandidates: maxCandidates, Fallback: fallback}
}

// Key returns the match key of a raw description.
func (m *Matcher) Key(raw string) string {
	return m.Normalizer.Normalize(raw)
}

// FindMatches returns up to MaxCandidates (never more than three) labeled rows that contain key in
// their normalized original description or in their cleaned description.
// The row identified by exclude is never returned. Newest rows come first;
// undated rows go last in table order.
func (m *Matcher) FindMatches(key string, rows []domain.TransactionRecord, exclude string) []domain.MatchCandidate {
	if key == "" {
		return nil
	}

	var hits []domain.TransactionRecord
	for _, row := range rows {
		if !m.qualifies(key, row, exclude) {
			continue
		}
		hits = append(hits, row)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.HasDate() != b.HasDate() {
			return a.HasDate()
		}
		return a.Date.After(b.Date)
	})

	limit := m.MaxCandidates
	if limit <= 0 || limit > DefaultMaxCandidates {
		limit = DefaultMaxCandidates
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]domain.MatchCandidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, domain.MatchCandidate{
			OriginalDescription: h.OriginalDescription,
			UpdatedDescription:  h.Description,
			Category:            h.Category,
		})
	}
	return out
}

func (m *Matcher) qualifies(key string, row domain.TransactionRecord, exclude string) bool {
	category := strings.TrimSpace(row.Category)
	if category == "" || category == m.Fallback {
		return false
	}
	if exclude != "" && row.TransactionID == exclude {
		return false
	}
	if normalize.IsGenericDescription(row.Description) {
		return false
	}
	if strings.Contains(m.Normalizer.Normalize(row.OriginalDescription), key) {
		return true
	}
	return strings.Contains(strings.ToLower(row.Description), key)
}
