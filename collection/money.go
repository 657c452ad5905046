package collection

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point currency in minor units (paise / cents)
// =============================================================================

// Money is an amount of currency in minor units. 110000 is ₹1,100.00.
// Dues and payments never touch float64.
type Money int64

// minorPerMajor is the number of minor units in one major unit.
const minorPerMajor = 100

var hundred = decimal.NewFromInt(minorPerMajor)

// MoneyFromDecimal converts a major-unit decimal (e.g. 1100.50) into Money,
// rounding half away from zero to the minor unit.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money(d.Mul(hundred).Round(0).IntPart())
}

// ParseMoney parses a major-unit string such as "1100.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid money %q: %w", s, err)
	}
	return MoneyFromDecimal(d), nil
}

// Major returns an amount given in whole major units.
func Major(units int64) Money { return Money(units * minorPerMajor) }

func (m Money) Decimal() decimal.Decimal { return decimal.New(int64(m), -2) }
func (m Money) Minor() int64             { return int64(m) }
func (m Money) IsPositive() bool         { return m > 0 }
func (m Money) IsZero() bool             { return m == 0 }

func (m Money) Min(o Money) Money {
	if m < o {
		return m
	}
	return o
}

// String renders the amount in major units with two decimals.
func (m Money) String() string { return m.Decimal().StringFixed(2) }

// MarshalJSON encodes Money as an integer count of minor units.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(m), 10)), nil
}

// UnmarshalJSON accepts an integer count of minor units. Fractional minor
// units are rejected rather than rounded.
func (m *Money) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("money must be an integer number of minor units: %w", err)
	}
	v, err := n.Int64()
	if err != nil {
		return fmt.Errorf("money must be an integer number of minor units: %w", err)
	}
	*m = Money(v)
	return nil
}

// SumMoney adds up a list of amounts.
func SumMoney(ms ...Money) Money {
	var total Money
	for _, m := range ms {
		total += m
	}
	return total
}
