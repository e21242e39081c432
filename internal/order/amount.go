package order

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount coerces a numeric-looking cell to a decimal. Currency symbols,
// thousands separators and surrounding whitespace are stripped; "(12.00)" is
// read as negative. Anything unparseable yields decimal.Zero and ok=false.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', ' ', '\u00a0', '€', '£':
			return -1
		}
		return r
	}, s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "USD"), "usd")

	// "-$5" becomes "-5" above; "$-5" as well.
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}
