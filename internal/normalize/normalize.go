package normalize

import (
	"regexp"
	"strings"
)

// DefaultKeyTokens is the number of leading tokens kept in a match key.
const DefaultKeyTokens = 3

// maxPasses bounds the fixed-point loop; real inputs settle in two.
const maxPasses = 8

// Rule removes the first word-initial occurrence of Pattern, substituting Replacement.
type Rule struct {
	Pattern     string
	Replacement string
}

// DefaultRules strips POS processor prefixes and merchant routers. Order matters:
// longer router prefixes come before their abbreviations.
var DefaultRules = []Rule{
	{Pattern: "sq *", Replacement: ""},
	{Pattern: "tst* ", Replacement: ""},
	{Pattern: "sumup *", Replacement: ""},
	{Pattern: "zettle_*", Replacement: ""},
	{Pattern: "pos ", Replacement: ""},
	{Pattern: "direct debit ", Replacement: ""},
	{Pattern: "bill payment ", Replacement: ""},
	{Pattern: "dividend received ", Replacement: ""},
	{Pattern: "paypal *", Replacement: ""},
	{Pattern: "pp*", Replacement: ""},
	{Pattern: "amzn mktp ", Replacement: ""},
}

// maskedDigits finds card and reference placeholders such as "xx1234", "****5678",
// "##12" or a bare "xxxx". An x run must end in a digit or the token, so words
// like "xxl" survive. Everything from the placeholder onward is dropped.
var maskedDigits = regexp.MustCompile(`(?:^|\s)(?:x{2,}[0-9x]*[0-9]|x{2,}(?:\s|$)|\*{2,}|#{2,})`)

// Normalizer turns a raw bank description into a short lowercase match key.
type Normalizer struct {
	KeyTokens int
	Rules     []Rule
}

// New returns a Normalizer with the default rules keeping keyTokens tokens.
// Non-positive values fall back to DefaultKeyTokens.
func New(keyTokens int) *Normalizer {
	if keyTokens <= 0 {
		keyTokens = DefaultKeyTokens
	}
	return &Normalizer{KeyTokens: keyTokens, Rules: DefaultRules}
}

var defaultNormalizer = New(DefaultKeyTokens)

// Normalize applies the default normalizer.
func Normalize(raw string) string {
	return defaultNormalizer.Normalize(raw)
}

// Normalize is deterministic and idempotent: the pass is repeated until the
// output stops changing.
func (n *Normalizer) Normalize(raw string) string {
	s := raw
	for i := 0; i < maxPasses; i++ {
		next := n.pass(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func (n *Normalizer) pass(raw string) string {
	s := strings.ToLower(raw)

	if loc := maskedDigits.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}

	for _, r := range n.Rules {
		s = replaceFirstWord(s, r.Pattern, r.Replacement)
	}

	s = strings.ReplaceAll(s, "*", " ")

	tokens := strings.Fields(s)
	limit := n.KeyTokens
	if limit <= 0 {
		limit = DefaultKeyTokens
	}
	if len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return strings.Join(tokens, " ")
}

// replaceFirstWord replaces the first occurrence of pattern that starts a word,
// so "pos " is removed from "pos tesco" but not from "repos shop".
func replaceFirstWord(s, pattern, replacement string) string {
	if pattern == "" {
		return s
	}
	offset := 0
	for {
		idx := strings.Index(s[offset:], pattern)
		if idx < 0 {
			return s
		}
		idx += offset
		if idx == 0 || s[idx-1] == ' ' {
			return s[:idx] + replacement + s[idx+len(pattern):]
		}
		offset = idx + 1
	}
}
