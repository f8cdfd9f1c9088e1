package reporting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/insightai/internal/models"
)

func TestNormalizeKeyFigure(t *testing.T) {
	tests := []struct {
		name      string
		in        models.KeyFigure
		wantValue string
		wantUnit  string
	}{
		{"plain euro compacts to millions", models.KeyFigure{Name: "Revenue", Value: "1.875.394", Unit: "EUR"}, "1,88 Mio. €", ""},
		{"already compacted stays", models.KeyFigure{Name: "Revenue", Value: "3,2", Unit: "Mio. €"}, "3,2", "Mio. €"},
		{"exactly one million", models.KeyFigure{Name: "Budget", Value: "1.000.000", Unit: "€"}, "1,00 Mio. €", ""},
		{"unknown unit untouched", models.KeyFigure{Name: "Members", Value: "51.200", Unit: "unknown"}, "51.200", "unknown"},
		{"percent untouched", models.KeyFigure{Name: "Margin", Value: "12,5", Unit: "%"}, "12,5", "%"},
		{"thousands scale up", models.KeyFigure{Name: "Costs", Value: "1.027", Unit: "Tsd. €"}, "1,03 Mio. €", ""},
		{"small thousands grouped", models.KeyFigure{Name: "Fee", Value: "12,5", Unit: "k€"}, "12.500 €", ""},
		{"dollar billions", models.KeyFigure{Name: "Cap", Value: "2.500.000.000", Unit: "USD"}, "2,50 Mrd. $", ""},
		{"plain currency below threshold", models.KeyFigure{Name: "Price", Value: "999.999", Unit: "EUR"}, "999.999", "EUR"},
		{"unparseable value", models.KeyFigure{Name: "Revenue", Value: "n/a", Unit: "EUR"}, "n/a", "EUR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeKeyFigure(tt.in)
			assert.Equal(t, tt.wantValue, got.Value)
			assert.Equal(t, tt.wantUnit, got.Unit)
			assert.Equal(t, tt.in.Name, got.Name)
		})
	}
}

func TestParseNumberDE(t *testing.T) {
	n, ok := ParseNumberDE(" 1.875.394 ")
	assert.True(t, ok)
	assert.Equal(t, 1875394.0, n)

	n, ok = ParseNumberDE("1,23")
	assert.True(t, ok)
	assert.InDelta(t, 1.23, n, 1e-12)

	_, ok = ParseNumberDE("")
	assert.False(t, ok)
	_, ok = ParseNumberDE("NaN")
	assert.False(t, ok)
}

func TestDetectCurrency(t *testing.T) {
	assert.Equal(t, CurrencyEUR, DetectCurrency("Mio. Euro"))
	assert.Equal(t, CurrencyEUR, DetectCurrency("€"))
	assert.Equal(t, CurrencyUSD, DetectCurrency("US-Dollar"))
	assert.Equal(t, CurrencyUSD, DetectCurrency("$"))
	assert.Equal(t, CurrencyUnknown, DetectCurrency("%"))
}

func TestFormatCompactMoney_Grouping(t *testing.T) {
	assert.Equal(t, "1.234 €", FormatCompactMoney(1234, CurrencyEUR))
	assert.Equal(t, "999.999 $", FormatCompactMoney(999999, CurrencyUSD))
	assert.Equal(t, "12 €", FormatCompactMoney(12, CurrencyEUR))
	assert.Equal(t, "1,00 Mrd. €", FormatCompactMoney(1_000_000_000, CurrencyEUR))
}

func TestRenderKeyFigures(t *testing.T) {
	assert.Equal(t, noKeyFigures, RenderKeyFigures(nil))
	got := RenderKeyFigures([]models.KeyFigure{
		{Name: "Revenue", Value: "1,88 Mio. €"},
		{Name: "Members", Value: "51.200", Unit: "unknown", Context: "2024"},
		{Name: "Margin", Value: "12,5", Unit: "%"},
	})
	assert.Equal(t, "- Revenue: 1,88 Mio. €\n- Members: 51.200 (2024)\n- Margin: 12,5 %", got)
}
