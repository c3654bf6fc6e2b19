package money

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCurrency_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		digits int
	}{
		{"empty", "", 2},
		{"lowercase", "usd", 2},
		{"too long", "USDD", 2},
		{"negative digits", "USD", -1},
		{"too many digits", "USD", 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCurrency(tt.code, tt.digits)
			assert.Error(t, err)
		})
	}
}

func TestCurrency_RoundHalfEven(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.005", "1"},
		{"1.015", "1.02"},
		{"1.025", "1.02"},
		{"-1.035", "-1.04"},
		{"2.50", "2.5"},
	}
	for _, tt := range tests {
		got := USD.Round(decimal.RequireFromString(tt.in))
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "Round(%s) = %s, want %s", tt.in, got, tt.want)
	}

	assert.True(t, JPY.Round(decimal.RequireFromString("2.5")).Equal(decimal.NewFromInt(2)))
	assert.True(t, JPY.Round(decimal.RequireFromString("3.5")).Equal(decimal.NewFromInt(4)))
}

func TestMoney_CurrencyChecked(t *testing.T) {
	a := New(decimal.NewFromInt(10), USD)
	b := New(decimal.NewFromInt(4), EUR)

	_, err := a.Add(b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCurrencyMismatch))

	_, err = a.Sub(b)
	assert.True(t, errors.Is(err, ErrCurrencyMismatch))

	assert.False(t, a.Equal(New(decimal.NewFromInt(10), EUR)))
}

func TestMoney_Arithmetic(t *testing.T) {
	a := New(decimal.RequireFromString("10.50"), USD)
	b := New(decimal.RequireFromString("0.25"), USD)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "10.75 USD", sum.String())

	diff, err := b.Sub(a)
	require.NoError(t, err)
	assert.True(t, diff.IsNegative())
	assert.Equal(t, "-10.25 USD", diff.String())

	assert.True(t, Zero(USD).IsZero())
}

func TestNewFromString_RoundsToCurrency(t *testing.T) {
	m, err := NewFromString("99.125", USD)
	require.NoError(t, err)
	assert.Equal(t, "99.12 USD", m.String())

	_, err = NewFromString("abc", USD)
	assert.Error(t, err)
}

func TestCurrency_JSON(t *testing.T) {
	b, err := json.Marshal(KES)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"KES","digits":2}`, string(b))

	var c Currency
	require.NoError(t, json.Unmarshal(b, &c))
	assert.Equal(t, KES, c)

	assert.Error(t, json.Unmarshal([]byte(`{"code":"kes","digits":2}`), &c))
}
