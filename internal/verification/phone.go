// Package verification implements SMS phone verification: one-time codes are
// generated and compared server-side, and a successful check yields a
// short-lived token bound to the phone number.
package verification

import (
	"regexp"
	"strings"

	"github.com/runferry/portal/model"
)

var phonePattern = regexp.MustCompile(`^380\d{9}$`)

// Normalize converts user input into the 380XXXXXXXXX form. It accepts
// formatted numbers ("+38 (050) 123-45-67"), national numbers ("0501234567")
// and bare subscriber numbers ("501234567").
func Normalize(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", model.NewError(model.ErrMissingPhone, "phone is required")
	}
	digits := canonicalDigits(raw)
	if !phonePattern.MatchString(digits) {
		return "", model.NewError(model.ErrInvalidPhone, "phone must be a Ukrainian mobile number")
	}
	return digits, nil
}

// canonicalDigits strips everything but digits and adds the missing country
// prefix. The result is not validated.
func canonicalDigits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "0"):
		digits = "38" + digits
	case strings.HasPrefix(digits, "8") && len(digits) == 10:
		digits = "38" + digits
	case !strings.HasPrefix(digits, "380") && len(digits) == 9:
		digits = "380" + digits
	}
	return digits
}

// FormatForDisplay renders a phone as "+380 XX XXX XX XX". Input that does
// not canonicalize to twelve digits is returned unchanged.
func FormatForDisplay(phone string) string {
	d := canonicalDigits(phone)
	if len(d) != 12 {
		return phone
	}
	return "+" + d[:3] + " " + d[3:5] + " " + d[5:8] + " " + d[8:10] + " " + d[10:]
}
