package services

import (
	"net/mail"
	"strings"
)

// NormEmail lowercases and trims an address and reports whether it parses.
func NormEmail(s string) (string, bool) {
	e := strings.TrimSpace(strings.ToLower(s))
	if e == "" {
		return "", true // treat empty as ok/optional
	}
	_, err := mail.ParseAddress(e)
	return e, err == nil
}

// NormalizeIdentity maps a raw sender to its conversation key. Email
// addresses are case-folded and trimmed; session ids pass through.
func NormalizeIdentity(raw string) string {
	if !strings.Contains(raw, "@") {
		return raw
	}
	e, _ := NormEmail(raw)
	return e
}

// AddressOnly extracts the bare address from a header value such as
// `"Anna Muster" <anna@example.com>`.
func AddressOnly(header string) string {
	if a, err := mail.ParseAddress(header); err == nil {
		return a.Address
	}
	return strings.Trim(strings.TrimSpace(header), "<>")
}
