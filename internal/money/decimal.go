// Package money provides the fixed-point decimal used for every payout, rate
// and band boundary. Binary floating point never touches a posted amount.
package money

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// ErrDivisionByZero is returned by Div when the divisor is zero.
var ErrDivisionByZero = errors.New("division by zero")

const precision = 34

func arith() *apd.Context {
	ctx := apd.BaseContext.WithPrecision(precision)
	ctx.Rounding = apd.RoundHalfUp
	return ctx
}

// Decimal is an exact base-10 number. The zero value is 0.
type Decimal struct {
	value apd.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{}

// New parses a decimal string such as "1250.50".
func New(s string) (Decimal, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(strings.TrimSpace(s)); err != nil {
		return Decimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return Decimal{value: d}, nil
}

// MustNew is New for literals known to be valid. It panics otherwise.
func MustNew(s string) Decimal {
	d, err := New(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt returns i as a Decimal.
func FromInt(i int64) Decimal {
	var d apd.Decimal
	d.SetInt64(i)
	return Decimal{value: d}
}

// FromFloat converts f using its shortest decimal representation.
func FromFloat(f float64) Decimal {
	var d apd.Decimal
	if _, err := d.SetFloat64(f); err != nil {
		return Decimal{}
	}
	return Decimal{value: d}
}

// Parse converts a raw imported cell into a Decimal. It accepts numbers,
// numeric strings decorated with currency symbols, thousands separators,
// percent signs or accounting parentheses, and booleans (true=1, false=0).
func Parse(v any) (Decimal, bool) {
	switch x := v.(type) {
	case nil:
		return Decimal{}, false
	case Decimal:
		return x, true
	case float64:
		return FromFloat(x), true
	case float32:
		return FromFloat(float64(x)), true
	case int:
		return FromInt(int64(x)), true
	case int64:
		return FromInt(x), true
	case json.Number:
		d, err := New(x.String())
		return d, err == nil
	case bool:
		if x {
			return FromInt(1), true
		}
		return Zero, true
	case string:
		return parseString(x)
	default:
		return Decimal{}, false
	}
}

func parseString(s string) (Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}, false
	}
	switch strings.ToLower(s) {
	case "true", "yes", "y":
		return FromInt(1), true
	case "false", "no", "n":
		return Zero, true
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(s)
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return Decimal{}, false
	}
	d, err := New(s)
	if err != nil {
		return Decimal{}, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// String returns the plain (non-exponent) decimal text.
func (d Decimal) String() string {
	return d.value.Text('f')
}

// IsZero reports whether d == 0.
func (d Decimal) IsZero() bool {
	return d.value.IsZero()
}

// Sign returns -1, 0 or 1.
func (d Decimal) Sign() int {
	return d.value.Sign()
}

// Cmp compares d and other.
func (d Decimal) Cmp(other Decimal) int {
	return d.value.Cmp(&other.value)
}

// Equal reports numeric equality regardless of scale ("50" == "50.00").
func (d Decimal) Equal(other Decimal) bool {
	return d.Cmp(other) == 0
}

// Add returns d + other.
func (d Decimal) Add(other Decimal) Decimal {
	var result apd.Decimal
	_, _ = arith().Add(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Sub returns d - other.
func (d Decimal) Sub(other Decimal) Decimal {
	var result apd.Decimal
	_, _ = arith().Sub(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Mul returns d * other.
func (d Decimal) Mul(other Decimal) Decimal {
	var result apd.Decimal
	_, _ = arith().Mul(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Div returns d / other.
func (d Decimal) Div(other Decimal) (Decimal, error) {
	if other.IsZero() {
		return Decimal{}, ErrDivisionByZero
	}
	var result apd.Decimal
	if _, err := arith().Quo(&result, &d.value, &other.value); err != nil {
		return Decimal{}, fmt.Errorf("divide %s by %s: %w", d, other, err)
	}
	return Decimal{value: result}, nil
}

// Neg returns -d.
func (d Decimal) Neg() Decimal {
	var result apd.Decimal
	result.Neg(&d.value)
	return Decimal{value: result}
}

// Abs returns |d|.
func (d Decimal) Abs() Decimal {
	var result apd.Decimal
	result.Abs(&d.value)
	return Decimal{value: result}
}

// Min returns the smaller of d and other.
func (d Decimal) Min(other Decimal) Decimal {
	if d.Cmp(other) <= 0 {
		return d
	}
	return other
}

// Round rounds half-up to the given number of fractional digits.
func (d Decimal) Round(places int32) Decimal {
	var result apd.Decimal
	if _, err := arith().Quantize(&result, &d.value, -places); err != nil {
		return d
	}
	return Decimal{value: result}
}

// RoundCents rounds half-up to two fractional digits.
func (d Decimal) RoundCents() Decimal {
	return d.Round(2)
}

// Float64 converts d for statistics. Never use the result for payouts.
func (d Decimal) Float64() float64 {
	f, err := d.value.Float64()
	if err != nil {
		return 0
	}
	return f
}

// Sum adds all values.
func Sum(values ...Decimal) Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MarshalJSON encodes d as a JSON number carrying its exact digits.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON accepts a JSON number, a numeric string or null.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = Decimal{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, ok := parseString(s)
		if !ok {
			return fmt.Errorf("invalid decimal %q", s)
		}
		*d = parsed
		return nil
	}
	parsed, err := New(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText lets Decimal be stored in TEXT columns and map keys.
func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses the TEXT column representation.
func (d *Decimal) UnmarshalText(text []byte) error {
	parsed, err := New(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
