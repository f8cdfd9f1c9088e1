package reporting

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/markdave123-py/insightai/internal/models"
)

type Currency string

const (
	CurrencyEUR     Currency = "EUR"
	CurrencyUSD     Currency = "USD"
	CurrencyUnknown Currency = "UNKNOWN"
)

const noKeyFigures = "No key figures could be extracted from the evidence."

// ParseNumberDE parses a number written with '.' for thousands and ','
// for decimals, e.g. "1.875.394" or "3,2".
func ParseNumberDE(value string) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(value), " ", "")
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func DetectCurrency(unit string) Currency {
	u := strings.ToLower(unit)
	switch {
	case strings.Contains(u, "€"), strings.Contains(u, "eur"):
		return CurrencyEUR
	case strings.Contains(u, "$"), strings.Contains(u, "usd"), strings.Contains(u, "dollar"):
		return CurrencyUSD
	default:
		return CurrencyUnknown
	}
}

func (c Currency) Symbol() string {
	switch c {
	case CurrencyEUR:
		return "€"
	case CurrencyUSD:
		return "$"
	default:
		return ""
	}
}

func isThousandUnit(unit string) bool {
	u := strings.TrimSpace(strings.ReplaceAll(strings.ToLower(unit), ".", ""))
	for _, marker := range []string{"tausend", "tsd", "thousand", "k€", "keur", "kusd"} {
		if strings.Contains(u, marker) {
			return true
		}
	}
	return false
}

func isPlainCurrencyUnit(unit string) bool {
	switch unit {
	case "€", "EUR", "$", "USD":
		return true
	}
	return false
}

// FormatCompactMoney renders amounts from one million upwards as
// "X,XX Mio. €" / "X,XX Mrd. €" and smaller ones as a dot-grouped integer.
func FormatCompactMoney(amount float64, c Currency) string {
	sym := c.Symbol()
	switch {
	case amount >= 1_000_000_000:
		return strings.TrimSpace(decimalComma(amount/1_000_000_000) + " Mrd. " + sym)
	case amount >= 1_000_000:
		return strings.TrimSpace(decimalComma(amount/1_000_000) + " Mio. " + sym)
	default:
		return strings.TrimSpace(groupThousands(int64(math.RoundToEven(amount))) + " " + sym)
	}
}

func decimalComma(f float64) string {
	return strings.Replace(fmt.Sprintf("%.2f", f), ".", ",", 1)
}

func groupThousands(n int64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var sb strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte('.')
		}
		sb.WriteRune(d)
	}
	return sign + sb.String()
}

// NormalizeKeyFigure compacts EUR and USD amounts and moves the currency
// symbol into the value. Anything it cannot interpret passes through.
func NormalizeKeyFigure(kf models.KeyFigure) models.KeyFigure {
	unit := strings.TrimSpace(kf.Unit)
	currency := DetectCurrency(unit)
	if currency == CurrencyUnknown {
		return kf
	}
	num, ok := ParseNumberDE(kf.Value)
	if !ok {
		return kf
	}

	switch {
	case isThousandUnit(unit):
		kf.Value = FormatCompactMoney(num*1000, currency)
		kf.Unit = ""
	case isPlainCurrencyUnit(unit) && num >= 1_000_000:
		kf.Value = FormatCompactMoney(num, currency)
		kf.Unit = ""
	}
	return kf
}

// RenderKeyFigures turns key figures into the bullet list shown as the
// Key Figures section body.
func RenderKeyFigures(figures []models.KeyFigure) string {
	if len(figures) == 0 {
		return noKeyFigures
	}
	lines := make([]string, 0, len(figures))
	for _, kf := range figures {
		line := "- " + kf.Name + ": " + kf.Value
		if kf.Unit != "" && kf.Unit != "unknown" {
			line += " " + kf.Unit
		}
		if kf.Context != "" {
			line += " (" + kf.Context + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
