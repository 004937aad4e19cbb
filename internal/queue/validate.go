package queue

import (
	"strings"
	"unicode"
)

const minNameLength = 2

// NormalizePhone strips common separators and an international Thai prefix,
// then requires exactly 10 digits.
func NormalizePhone(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", NewValidationError("phone_number is required")
	}
	var digits strings.Builder
	for i, r := range trimmed {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", NewValidationError("phone_number contains invalid character %q", r)
		}
	}
	normalized := digits.String()
	if strings.HasPrefix(trimmed, "+66") && strings.HasPrefix(normalized, "66") {
		normalized = "0" + normalized[2:]
	}
	if len(normalized) != 10 {
		return "", NewValidationError("phone_number must normalize to exactly 10 digits")
	}
	return normalized, nil
}

// NormalizeName trims the value and requires at least two characters.
func NormalizeName(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if len([]rune(trimmed)) < minNameLength {
		return "", NewValidationError("%s must be at least %d characters", field, minNameLength)
	}
	return trimmed, nil
}
