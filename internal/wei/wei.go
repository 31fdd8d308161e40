package wei

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherExp is the decimal exponent between wei and ether.
const EtherExp = 18

var (
	// ErrInvalidAmount indicates a wei/eth string that is not an exact non-negative amount.
	ErrInvalidAmount = errors.New("invalid amount")
)

// ToEth renders a wei amount as a decimal ETH string without trailing zeros.
// 250000000000000000 -> "0.25", 1000000000000000000 -> "1".
func ToEth(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -EtherExp).String()
}

// ParseWei parses a base-10 non-negative integer wei string.
func ParseWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%w: %q is not a base-10 integer", ErrInvalidAmount, s)
		}
	}
	value, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return value, nil
}

// ParseEth converts a decimal ETH string back to wei. Amounts finer than one wei are rejected.
func ParseEth(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, s)
	}
	shifted := d.Shift(EtherExp)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, s, EtherExp)
	}
	return shifted.BigInt(), nil
}

// Max returns the larger of a and b, treating nil as absent.
func Max(a, b *big.Int) *big.Int {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.Cmp(b) >= 0:
		return a
	default:
		return b
	}
}
