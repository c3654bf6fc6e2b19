// Package money provides currency-tagged decimal amounts for loan servicing.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

const maxDigits = 8

var currencyCodeRe = regexp.MustCompile(`^[A-Z]{3}$`)

// ErrCurrencyMismatch is returned when arithmetic mixes two currencies.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// Currency is an ISO 4217 code together with the number of decimal digits
// amounts in that currency are held to.
type Currency struct {
	code   string
	digits int32
}

// NewCurrency validates the code and the digit precision.
func NewCurrency(code string, digits int) (Currency, error) {
	if !currencyCodeRe.MatchString(code) {
		return Currency{}, fmt.Errorf("invalid currency code %q: must be exactly 3 uppercase letters", code)
	}
	if digits < 0 || digits > maxDigits {
		return Currency{}, fmt.Errorf("invalid currency digits %d: must be between 0 and %d", digits, maxDigits)
	}
	return Currency{code: code, digits: int32(digits)}, nil
}

// MustCurrency creates a Currency and panics on error. Intended for package-level variable
// initialization only.
func MustCurrency(code string, digits int) Currency {
	c, err := NewCurrency(code, digits)
	if err != nil {
		panic(err)
	}
	return c
}

// Common currencies.
var (
	USD = MustCurrency("USD", 2)
	EUR = MustCurrency("EUR", 2)
	KES = MustCurrency("KES", 2)
	JPY = MustCurrency("JPY", 0)
)

// Code returns the ISO 4217 currency code.
func (c Currency) Code() string { return c.code }

// Digits returns the decimal precision of the currency.
func (c Currency) Digits() int { return int(c.digits) }

// IsZero reports whether the currency has not been initialised.
func (c Currency) IsZero() bool { return c.code == "" }

func (c Currency) String() string { return c.code }

// Round rounds d half-to-even at the currency precision.
func (c Currency) Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(c.digits)
}

type currencyJSON struct {
	Code   string `json:"code"`
	Digits int    `json:"digits"`
}

func (c Currency) MarshalJSON() ([]byte, error) {
	return json.Marshal(currencyJSON{Code: c.code, Digits: int(c.digits)})
}

func (c *Currency) UnmarshalJSON(b []byte) error {
	var raw currencyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := NewCurrency(raw.Code, raw.Digits)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Money is an immutable amount in a currency.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// New creates a Money value, rounding the amount to the currency precision.
func New(amount decimal.Decimal, currency Currency) Money {
	return Money{amount: currency.Round(amount), currency: currency}
}

// NewFromString parses an amount string into a Money value.
func NewFromString(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return New(d, currency), nil
}

// Zero returns a Money value of zero in the given currency.
func Zero(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() Currency      { return m.currency }
func (m Money) IsZero() bool            { return m.amount.IsZero() }
func (m Money) IsPositive() bool        { return m.amount.IsPositive() }
func (m Money) IsNegative() bool        { return m.amount.IsNegative() }

// Add returns the sum of m and other.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("%w: cannot add %s to %s", ErrCurrencyMismatch, other.currency, m.currency)
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub returns m minus other.
func (m Money) Sub(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("%w: cannot subtract %s from %s", ErrCurrencyMismatch, other.currency, m.currency)
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Equal returns true if both the amount and currency of m and other are equal.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// String formats the value as "<amount> <currency>" at the currency precision.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixedBank(m.currency.digits), m.currency.code)
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.currency.code})
}
