package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	emailRegex      = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	employeeIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)
	controlRegex    = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// MaxRequestAmount is the largest amount a single request may claim
var MaxRequestAmount = decimal.NewFromInt(10_000_000)

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

// ValidateEmployeeID validates a directory business key
func ValidateEmployeeID(id string) error {
	if id == "" {
		return fmt.Errorf("employee id is required")
	}
	if id == "system" {
		return fmt.Errorf("employee id %q is reserved", id)
	}
	if !employeeIDRegex.MatchString(id) {
		return fmt.Errorf("invalid employee id: %s", id)
	}
	return nil
}

// ValidateAmount validates a request amount: positive, at most two decimal places,
// and within MaxRequestAmount.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive: %s", amount.String())
	}
	if !amount.Equal(amount.Truncate(2)) {
		return fmt.Errorf("amount has more than two decimal places: %s", amount.String())
	}
	if amount.GreaterThan(MaxRequestAmount) {
		return fmt.Errorf("amount exceeds maximum limit: %s", amount.StringFixed(2))
	}
	return nil
}

// SanitizeString removes control characters and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlRegex.ReplaceAllString(s, ""))
}
