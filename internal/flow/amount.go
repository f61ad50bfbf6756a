package flow

import (
	"fmt"
	"math/big"
	"strings"
)

// ScaleToUnits converts a non-negative decimal string into the token's
// fixed-point integer representation: value x 10^decimals, truncating
// any digits beyond the token's precision. No floating point is
// involved, so the result matches the token's own decimal semantics
// exactly.
func ScaleToUnits(value string, decimals int) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(value, "-") {
		return nil, fmt.Errorf("negative amount %q", value)
	}

	intPart := value
	fracPart := ""
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		intPart = value[:idx]
		fracPart = value[idx+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || (fracPart != "" && !isDigits(fracPart)) {
		return nil, fmt.Errorf("invalid decimal amount %q", value)
	}

	// Truncate, never round.
	if len(fracPart) > decimals {
		fracPart = fracPart[:decimals]
	}
	fracPart += strings.Repeat("0", decimals-len(fracPart))

	units, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", value)
	}
	return units, nil
}

// FormatUnits renders a fixed-point integer back into a human-readable
// decimal string.
func FormatUnits(units *big.Int, decimals int) string {
	s := units.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")

	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
