package form

import (
	"regexp"
	"strings"
)

// LocalCurrencySymbol is appended to bare amounts and amounts in reais.
const LocalCurrencySymbol = "R$"

var (
	pricePattern = regexp.MustCompile(`^(\d+[.,]?\d*)\s*(.*)$`)

	localCurrencyNames = map[string]bool{
		"":       true,
		"реал":   true,
		"реала":  true,
		"реалов": true,
	}
)

// NormalizePrice renders "12,5" and "12.5 реалов" as "12.5 R$". Anything
// else, including amounts in foreign currencies, is returned trimmed but
// otherwise untouched.
func NormalizePrice(input string) string {
	trimmed := strings.TrimSpace(input)
	m := pricePattern.FindStringSubmatch(trimmed)
	if m == nil {
		return trimmed
	}
	currency := strings.ToLower(strings.TrimSpace(m[2]))
	if !localCurrencyNames[currency] {
		return trimmed
	}
	amount := strings.Replace(m[1], ",", ".", 1)
	return amount + " " + LocalCurrencySymbol
}
