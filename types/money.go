package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Money represents a monetary value in the smallest currency unit.
// All arithmetic is integer-only — no floating point. Gateway payment
// amounts are recorded this way in the claim ledger.
//
// Examples:
//   - RUB(29900) = 299.00 ₽ (29900 kopecks)
//   - USD(4900)  = $49.00 (4900 cents)
type Money struct {
	Amount   int64  `json:"amount"`   // Smallest unit (kopecks, cents, etc)
	Currency string `json:"currency"` // ISO 4217 lowercase: "rub", "usd", "eur"
}

// RUB creates a Money value in Russian Rubles (kopecks).
func RUB(kopecks int64) Money { return Money{Amount: kopecks, Currency: "rub"} }

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// EUR creates a Money value in Euros (cents).
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Amount: 0, Currency: strings.ToLower(currency)} }

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract subtracts another Money value. Panics if currencies don't match.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// Equal returns true if both Money values are equal (same amount and currency).
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// LessThan returns true if this Money is less than other. Panics if currencies don't match.
func (m Money) LessThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount < other.Amount
}

// FormatMajor returns the major unit string without a currency symbol,
// e.g. "299.00" for RUB(29900).
func (m Money) FormatMajor() string {
	isNegative := m.Amount < 0
	absAmount := m.Amount
	if isNegative {
		absAmount = -absAmount
	}

	major := absAmount / 100
	minor := absAmount % 100

	result := fmt.Sprintf("%d.%02d", major, minor)
	if isNegative {
		return "-" + result
	}
	return result
}

// String returns a human-readable string with the currency symbol,
// e.g. "299.00 ₽", "$49.00".
func (m Money) String() string {
	sym, suffix := currencySymbol(m.Currency)
	if suffix {
		return m.FormatMajor() + " " + sym
	}
	return sym + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// Sum calculates the sum of multiple Money values. All must have the same currency.
func Sum(values ...Money) Money {
	if len(values) == 0 {
		return Zero("rub")
	}

	result := values[0]
	for i := 1; i < len(values); i++ {
		result = result.Add(values[i])
	}
	return result
}

// assertSameCurrency panics if currencies don't match.
func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

// currencySymbol returns the symbol for a currency code and whether it
// is written after the amount.
func currencySymbol(currency string) (string, bool) {
	switch strings.ToLower(currency) {
	case "rub":
		return "₽", true
	case "usd":
		return "$", false
	case "eur":
		return "€", false
	case "gbp":
		return "£", false
	default:
		return strings.ToUpper(currency) + " ", false
	}
}
