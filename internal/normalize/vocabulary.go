package normalize

import (
	"regexp"
	"strings"
)

// GenericDescriptions are placeholder descriptions that carry no merchant
// information. Compared trimmed and lowercased.
var GenericDescriptions = map[string]struct{}{
	"amazon":              {},
	"amazon marketplace":  {},
	"paypal":              {},
	"apple":               {},
	"google":              {},
	"ebay":                {},
	"etsy":                {},
	"venmo":               {},
	"square":              {},
	"shopping":            {},
	"transfer":            {},
	"payment":             {},
	"purchase":            {},
	"online purchase":     {},
	"card payment":        {},
	"pos purchase":        {},
	"debit card purchase": {},
}

// Platform is an aggregator whose bank descriptions hide the real merchant.
type Platform struct {
	Name       string
	Signatures []string // lowercase substrings of the raw description
	Domain     string   // sender domain of receipt emails
	// DateFallback allows a receipt search without the amount, for platforms
	// whose receipts rarely show the charged total.
	DateFallback bool
}

// Platforms is checked in order; the first signature hit wins.
var Platforms = []Platform{
	{Name: "amazon", Signatures: []string{"amzn", "amazon"}, Domain: "amazon.com"},
	{Name: "paypal", Signatures: []string{"paypal", "pp*"}, Domain: "paypal.com"},
	{Name: "apple", Signatures: []string{"apple.com/bill", "apple.com"}, Domain: "apple.com", DateFallback: true},
	{Name: "google", Signatures: []string{"google *", "google"}, Domain: "google.com", DateFallback: true},
	{Name: "ebay", Signatures: []string{"ebay"}, Domain: "ebay.com"},
	{Name: "etsy", Signatures: []string{"etsy"}, Domain: "etsy.com"},
	{Name: "uber", Signatures: []string{"uber"}, Domain: "uber.com"},
}

var opaqueToken = regexp.MustCompile(`[A-Z0-9]{8,}`)

// IsGenericDescription reports whether a cleaned description is still a
// placeholder: empty, a bare platform or payment word, an unexpanded processor
// string with "*", an opaque reference code, or a transfer.
func IsGenericDescription(desc string) bool {
	trimmed := strings.TrimSpace(desc)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	if _, ok := GenericDescriptions[lower]; ok {
		return true
	}
	if strings.Contains(trimmed, "*") {
		return true
	}
	if opaqueToken.MatchString(trimmed) {
		return true
	}
	return strings.Contains(lower, "transfer")
}

// MatchPlatform returns the first platform whose signature occurs in the raw description.
func MatchPlatform(original string) (Platform, bool) {
	lower := strings.ToLower(original)
	if lower == "" {
		return Platform{}, false
	}
	for _, p := range Platforms {
		for _, sig := range p.Signatures {
			if strings.Contains(lower, sig) {
				return p, true
			}
		}
	}
	return Platform{}, false
}
