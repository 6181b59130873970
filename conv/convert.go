package conv

import (
	"fmt"
	"strings"

	"github.com/ericlagergren/decimal"
)

var zeroRounded decimal.Big

func init() {
	zeroRounded = decimal.Big{}
	zeroRounded.Context = decimal.Context128
	zeroRounded.Context.RoundingMode = decimal.ToZero
	zeroRounded.Quantize(8)
}

// NewDecimalWithPrecision returns a zero value rounded to 8 decimals
func NewDecimalWithPrecision() *decimal.Big {
	z := zeroRounded
	return &z
}

// CloneToPrecision copies the amount and rounds the copy to 8 decimals
func CloneToPrecision(devAmount *decimal.Big) *decimal.Big {
	dec := &decimal.Big{}
	dec.Context = decimal.Context128
	dec.Context.RoundingMode = decimal.ToZero
	dec.Copy(devAmount)
	dec.Quantize(8)
	return dec
}

// FmtDecimal prints the amount in plain notation without trailing zeros
func FmtDecimal(amount *decimal.Big) string {
	if amount == nil {
		return ""
	}
	out := fmt.Sprintf("%f", CloneToPrecision(amount))
	if strings.Contains(out, ".") {
		out = strings.TrimRight(out, "0")
		out = strings.TrimSuffix(out, ".")
	}
	if out == "" || out == "-0" {
		return "0"
	}
	return out
}

// Sum adds all the amounts into a new value
func Sum(amounts ...*decimal.Big) *decimal.Big {
	total := NewDecimalWithPrecision()
	for _, amount := range amounts {
		if amount == nil {
			continue
		}
		total.Add(total, amount)
	}
	return total
}
