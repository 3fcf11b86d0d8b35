package util

import (
	"fmt"
	"strings"
)

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"BRL": "R$",
}

// FormatAmount renders minor units with a currency symbol, e.g. 123450 USD ->
// "$1,234.50". Unknown currencies fall back to "<code> <amount>".
func FormatAmount(cents int64, currency string) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}

	whole := cents / 100
	frac := cents % 100

	digits := fmt.Sprintf("%d", whole)
	var sb strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	amount := fmt.Sprintf("%s.%02d", sb.String(), frac)
	if neg {
		amount = "-" + amount
	}

	code := strings.ToUpper(strings.TrimSpace(currency))
	if sym, ok := currencySymbols[code]; ok {
		return sym + amount
	}
	if code == "" {
		return amount
	}
	return code + " " + amount
}
