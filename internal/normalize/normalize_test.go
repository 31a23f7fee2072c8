package normalize

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "square prefix and masked card", raw: "SQ *COFFEE SHOP XX1234", want: "coffee shop"},
		{name: "toast prefix keeps three tokens", raw: "TST* JOE'S PIZZA NEW YORK NY", want: "joe's pizza new"},
		{name: "pos prefix", raw: "POS TESCO STORES 2345 LONDON", want: "tesco stores 2345"},
		{name: "paypal router", raw: "PAYPAL *NETFLIX", want: "netflix"},
		{name: "zettle prefix", raw: "ZETTLE_*CAFE NERO", want: "cafe nero"},
		{name: "direct debit", raw: "DIRECT DEBIT BRITISH GAS", want: "british gas"},
		{name: "masked with asterisks", raw: "CARD PAYMENT TO COSTA ****1234", want: "card payment to"},
		{name: "masked with hashes", raw: "UBER TRIP ##99", want: "uber trip"},
		{name: "only a mask", raw: "  XX1234 ", want: ""},
		{name: "empty", raw: "", want: ""},
		{name: "asterisk becomes space", raw: "AMZN Mktp US*2K4L83", want: "us 2k4l83"},
		{name: "prefix must start a word", raw: "Repos Shop", want: "repos shop"},
		{name: "x inside a word is not a mask", raw: "EXXON MOBIL 123", want: "exxon mobil 123"},
		{name: "word starting with xx is not a mask", raw: "XXL SPORTS STORE 123", want: "xxl sports store"},
		{name: "bare x run is a mask", raw: "NETFLIX.COM XXXX LONDON", want: "netflix.com"},
		{name: "x run with mixed digits", raw: "TFL TRAVEL XX12X4", want: "tfl travel"},
		{name: "whitespace collapsed", raw: "  BOOTS   THE \t CHEMIST ", want: "boots the chemist"},
		{name: "repeated prefix settles", raw: "POS POS TESCO", want: "tesco"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.raw); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"SQ *COFFEE SHOP XX1234",
		"POS POS TESCO",
		"sq *pos coffee",
		"PAYPAL *PP*SPOTIFY",
		"TST* TST* DINER",
		"DIVIDEND RECEIVED VANGUARD FTSE",
		"BILL PAYMENT TO J SMITH REF ***55",
		"*** *** ***",
		"amzn mktp amzn mktp books",
	}

	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizer_KeyTokens(t *testing.T) {
	tests := []struct {
		name   string
		tokens int
		raw    string
		want   string
	}{
		{name: "two tokens", tokens: 2, raw: "SQ *COFFEE SHOP LONDON", want: "coffee shop"},
		{name: "five tokens", tokens: 5, raw: "TST* JOE'S PIZZA NEW YORK NY", want: "joe's pizza new york ny"},
		{name: "non-positive uses default", tokens: 0, raw: "ONE TWO THREE FOUR", want: "one two three"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := New(tt.tokens)
			if got := n.Normalize(tt.raw); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizer_CustomRules(t *testing.T) {
	n := &Normalizer{
		KeyTokens: 3,
		Rules:     []Rule{{Pattern: "crv*", Replacement: ""}, {Pattern: "ltd", Replacement: ""}},
	}
	if got := n.Normalize("CRV*ACME LTD"); got != "acme" {
		t.Errorf("Normalize() = %q, want %q", got, "acme")
	}
}
