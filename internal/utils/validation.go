package utils

import (
	"fmt"
	"strings"
	"time"
)

// ParseDateFlag parses a date string in ISO format (YYYY-MM-DD).
// Returns nil for empty strings (used to clear dates).
func ParseDateFlag(dateStr string) (*time.Time, error) {
	if dateStr == "" {
		return nil, nil
	}

	parsedDate, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
	if err != nil {
		return nil, ErrInvalidDate(dateStr)
	}
	return &parsedDate, nil
}

// ValidateTimeline checks that a project does not end before it starts
func ValidateTimeline(start, end *time.Time) error {
	if start == nil || end == nil {
		return nil
	}
	if start.After(*end) {
		return fmt.Errorf("timeline start (%s) cannot be after end (%s)",
			start.Format("2006-01-02"),
			end.Format("2006-01-02"))
	}
	return nil
}

// ValidateBudget checks the amount is non-negative and the currency looks
// like an ISO 4217 code
func ValidateBudget(amount float64, currency string) error {
	if amount < 0 {
		return fmt.Errorf("budget amount cannot be negative: %v", amount)
	}
	if currency == "" {
		return nil
	}
	if len(currency) != 3 || strings.ToUpper(currency) != currency {
		return fmt.Errorf("currency must be a 3-letter uppercase code, got %q", currency)
	}
	return nil
}

// ParseList splits a comma separated flag value, dropping blanks
func ParseList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
