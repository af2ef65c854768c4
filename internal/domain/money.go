package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MoneyScale is the number of fractional digits carried by Money.
const MoneyScale = 2

const moneyFactor = 100

// ErrInvalidMoney is returned when a decimal amount cannot be represented exactly.
var ErrInvalidMoney = errors.New("money: invalid amount")

// Money is a fixed-point amount in minor units (scale 2). 20.00 is stored as 2000.
type Money int64

// NewMoney builds an amount from whole and fractional minor units, e.g. NewMoney(20, 0) == 20.00.
func NewMoney(units int64, cents int64) Money {
	return Money(units*moneyFactor + cents)
}

// Add returns m + other.
func (m Money) Add(other Money) Money { return m + other }

// Sub returns m - other.
func (m Money) Sub(other Money) Money { return m - other }

// Mul multiplies the amount by an integer quantity.
func (m Money) Mul(quantity int) Money { return m * Money(quantity) }

// MinorUnits exposes the raw integer amount.
func (m Money) MinorUnits() int64 { return int64(m) }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m < 0 }

// String renders the amount as a plain decimal string with two fractional digits.
func (m Money) String() string {
	value := int64(m)
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	return fmt.Sprintf("%s%d.%02d", sign, value/moneyFactor, value%moneyFactor)
}

// Float returns an approximate float representation, for display formatting only.
func (m Money) Float() float64 {
	return float64(m) / moneyFactor
}

// ParseMoney parses a decimal string such as "20", "20.5" or "20.05" without going through floating point.
func ParseMoney(raw string) (Money, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidMoney)
	}
	negative := false
	switch value[0] {
	case '-':
		negative = true
		value = value[1:]
	case '+':
		value = value[1:]
	}

	whole, frac, hasFrac := strings.Cut(value, ".")
	if whole == "" && (!hasFrac || frac == "") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, raw)
	}
	if len(frac) > MoneyScale {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidMoney, raw, MoneyScale)
	}
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, raw)
	}
	frac += strings.Repeat("0", MoneyScale-len(frac))
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || cents < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, raw)
	}
	if units > (1<<62)/moneyFactor {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidMoney, raw)
	}

	amount := Money(units*moneyFactor + cents)
	if negative {
		amount = -amount
	}
	return amount, nil
}
