package payment

import (
	"strings"
	"time"

	"github.com/acmepay/payflow/internal/gateway"
)

// Validate checks the card details locally so an obviously bad card never
// reaches the network. Returns a ValidationError naming the offending field.
func (m CardMethod) Validate(now time.Time) error {
	number := strings.ReplaceAll(strings.TrimSpace(m.Number), " ", "")
	if len(number) < 13 || len(number) > 19 {
		return &gateway.ValidationError{Field: "card.number", Message: "card number must be 13-19 digits"}
	}
	if !allDigits(number) {
		return &gateway.ValidationError{Field: "card.number", Message: "card number must contain only digits"}
	}
	if !luhnValid(number) {
		return &gateway.ValidationError{Field: "card.number", Message: "card number failed checksum"}
	}
	if m.ExpMonth < 1 || m.ExpMonth > 12 {
		return &gateway.ValidationError{Field: "card.exp_month", Message: "expiry month must be 1-12"}
	}
	year := m.ExpYear
	if year < 100 {
		year += 2000
	}
	// A card is valid through the last day of its expiry month.
	endOfMonth := time.Date(year, time.Month(m.ExpMonth), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	if !now.Before(endOfMonth) {
		return &gateway.ValidationError{Field: "card.expiry", Message: "card is expired"}
	}
	cvc := strings.TrimSpace(m.CVC)
	if len(cvc) < 3 || len(cvc) > 4 {
		return &gateway.ValidationError{Field: "card.cvc", Message: "cvc must be 3 or 4 digits"}
	}
	if !allDigits(cvc) {
		return &gateway.ValidationError{Field: "card.cvc", Message: "cvc must contain only digits"}
	}
	return nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
