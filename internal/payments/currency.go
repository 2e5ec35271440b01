package payments

import (
	"strings"

	"github.com/shopspring/decimal"
)

var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// minorFactor is the number of minor units in one major unit of currency.
func minorFactor(currency string) decimal.Decimal {
	if zeroDecimal[strings.ToUpper(currency)] {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(100)
}

func ToMajor(minor int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(minorFactor(currency))
}

func ToMinor(major decimal.Decimal, currency string) int64 {
	return major.Mul(minorFactor(currency)).Round(0).IntPart()
}
