package domain

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// maxMoneyExponent ограничивает показатель в записи вида 1e2.
const maxMoneyExponent = 18

// Money хранит денежную сумму в минимальных единицах (центах).
// В JSON сумма выглядит как десятичное число с двумя знаками: 25.00.
type Money int64

// Mul умножает цену на количество.
func (m Money) Mul(qty int) Money {
	return m * Money(qty)
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseMoney разбирает десятичную строку без потери точности, в том числе
// экспоненциальную запись (1.5e2). Больше двух значащих знаков после точки
// считается ошибкой.
func ParseMoney(raw string) (Money, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidMoney)
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	if idx := strings.IndexAny(s, "eE"); idx >= 0 {
		expanded, err := expandExponent(s[:idx], s[idx+1:])
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, raw)
		}
		s = expanded
	}

	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if intPart == "" && (!hasDot || fracPart == "") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, raw)
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, raw)
	}

	if len(fracPart) > 2 {
		if strings.Trim(fracPart[2:], "0") != "" {
			return 0, fmt.Errorf("%w: more than two fraction digits in %q", ErrInvalidMoney, raw)
		}
		fracPart = fracPart[:2]
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}

	units := int64(0)
	if intPart != "" {
		v, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil || v > (1<<62)/100 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, raw)
		}
		units = v
	}
	cents, _ := strconv.ParseInt(fracPart, 10, 64)

	total := units*100 + cents
	if negative {
		total = -total
	}
	return Money(total), nil
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON принимает и число, и строку с числом.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if len(data) >= 2 && data[0] == '"' {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidMoney, raw)
		}
		raw = unquoted
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// expandExponent переписывает 1.5e2 в 150 сдвигом точки, без float.
func expandExponent(mantissa, exponent string) (string, error) {
	intPart, fracPart, _ := strings.Cut(mantissa, ".")
	if intPart == "" && fracPart == "" {
		return "", errors.New("empty mantissa")
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return "", errors.New("invalid mantissa")
	}
	exp, err := strconv.Atoi(exponent)
	if err != nil || exp < -maxMoneyExponent || exp > maxMoneyExponent {
		return "", errors.New("invalid exponent")
	}

	digits := intPart + fracPart
	point := len(intPart) + exp
	switch {
	case point <= 0:
		return "0." + strings.Repeat("0", -point) + digits, nil
	case point >= len(digits):
		return digits + strings.Repeat("0", point-len(digits)), nil
	default:
		return digits[:point] + "." + digits[point:], nil
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
