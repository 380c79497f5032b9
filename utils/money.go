package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CentsToReais converts an amount in centavos to reais.
func CentsToReais(cents int) decimal.Decimal {
	return decimal.New(int64(cents), -2)
}

// FormatBRL renders centavos the way a Brazilian storefront shows prices,
// e.g. 123456 -> "R$ 1.234,56".
func FormatBRL(cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	fixed := CentsToReais(cents).StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}
	return sign + "R$ " + grouped.String() + "," + frac
}
