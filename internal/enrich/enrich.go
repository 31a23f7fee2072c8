package enrich

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-tidy/internal/logger"
	"github.com/dvloznov/txn-tidy/internal/retry"
	"github.com/shopspring/decimal"
)

const (
	DefaultMaxChars   = 1000
	DefaultDaysBefore = 7
	DefaultDaysAfter  = 3
)

// MailSearcher finds the first message matching a mailbox search query.
type MailSearcher interface {
	Search(ctx context.Context, query string) (body string, found bool, err error)
}

// Enricher looks up receipt emails for platform purchases.
type Enricher struct {
	Searcher   MailSearcher
	MaxChars   int
	DaysBefore int
	DaysAfter  int
	Policy     retry.Policy
}

// New returns an Enricher with the default window and size limits.
func New(searcher MailSearcher, policy retry.Policy) *Enricher {
	return &Enricher{
		Searcher:   searcher,
		MaxChars:   DefaultMaxChars,
		DaysBefore: DefaultDaysBefore,
		DaysAfter:  DefaultDaysAfter,
		Policy:     policy,
	}
}

// FetchContext returns a whitespace-collapsed receipt excerpt or "". The
// amount-qualified search runs first; the date-only search runs only when
// allowDateFallback is set. Lookup failures are logged and swallowed.
func (e *Enricher) FetchContext(ctx context.Context, amount decimal.NullDecimal, date civil.Date, domain string, allowDateFallback bool) string {
	if e == nil || e.Searcher == nil || domain == "" || !date.IsValid() {
		return ""
	}
	log := logger.FromContext(ctx)

	var queries []string
	if amount.Valid {
		queries = append(queries, BuildQuery(domain, amount, date, e.DaysBefore, e.DaysAfter))
	}
	if allowDateFallback {
		queries = append(queries, BuildQuery(domain, decimal.NullDecimal{}, date, e.DaysBefore, e.DaysAfter))
	}

	for _, q := range queries {
		type hit struct {
			body  string
			found bool
		}
		h, err := retry.Value(ctx, e.Policy, "FetchContext", func(ctx context.Context) (hit, error) {
			body, found, err := e.Searcher.Search(ctx, q)
			return hit{body: body, found: found}, err
		})
		if err != nil {
			log.Debug().Err(err).Str("query", q).Msg("Receipt lookup failed")
			return ""
		}
		if h.found {
			return truncate(collapse(h.body), e.maxChars())
		}
	}
	return ""
}

func (e *Enricher) maxChars() int {
	if e.MaxChars <= 0 {
		return DefaultMaxChars
	}
	return e.MaxChars
}

// BuildQuery renders a mailbox search for receipts from domain around date.
// An invalid amount produces a date-only query.
func BuildQuery(domain string, amount decimal.NullDecimal, date civil.Date, daysBefore, daysAfter int) string {
	if daysBefore < 0 {
		daysBefore = DefaultDaysBefore
	}
	if daysAfter < 0 {
		daysAfter = DefaultDaysAfter
	}
	after := date.AddDays(-daysBefore)
	before := date.AddDays(daysAfter)

	var b strings.Builder
	b.WriteString("from:" + domain)
	if amount.Valid {
		fmt.Fprintf(&b, " %q", amount.Decimal.Abs().StringFixed(2))
	}
	fmt.Fprintf(&b, " after:%d/%d/%d before:%d/%d/%d",
		after.Year, int(after.Month), after.Day,
		before.Year, int(before.Month), before.Day)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts at a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
