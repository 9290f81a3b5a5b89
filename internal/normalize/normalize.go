// Package normalize standardizes raw source values so identical contacts,
// addresses, and identifiers collide on the same keys across systems.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	multiSpaceRe = regexp.MustCompile(`\s+`)
	nonDigitRe   = regexp.MustCompile(`\D+`)
	// keep word chars, spaces, and the address characters # / -
	textStripRe = regexp.MustCompile(`[^\w\s#/-]`)
)

// Space collapses runs of whitespace into single spaces and trims.
func Space(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// Text lowercases, strips punctuation except basic address characters, and
// collapses whitespace. Address and place keys are built from this form.
func Text(s string) string {
	s = norm.NFC.String(strings.ToLower(strings.TrimSpace(s)))
	s = textStripRe.ReplaceAllString(s, "")
	return Space(s)
}

// Email lowercases and trims an email address. Empty in, empty out.
func Email(s string) string {
	return norm.NFC.String(strings.ToLower(strings.TrimSpace(s)))
}

// Phone reduces a phone number to bare digits, dropping a leading US
// country code. Too-short fragments are kept; callers decide how many
// digits they require.
func Phone(s string) string {
	digits := nonDigitRe.ReplaceAllString(s, "")
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	return digits
}

// Name collapses whitespace for display. Matching comparisons lowercase
// separately via Text.
func Name(s string) string {
	return Space(norm.NFC.String(s))
}

// CleanNumber tidies spreadsheet-mangled identifier cells: trailing ".0"
// from float coercion is stripped, literal "none" becomes empty, values
// like "14-1414" pass through as text.
func CleanNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return ""
	}
	if strings.HasSuffix(s, ".0") && isAllDigits(s[:len(s)-2]) {
		s = s[:len(s)-2]
	}
	return s
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// PersonKey derives the canonical dedupe key for a person. Email beats
// phone beats name; an empty key means the row has nothing identifying.
func PersonKey(first, last, email, phone string) string {
	if e := Email(email); e != "" {
		return "email:" + e
	}
	if p := Phone(phone); p != "" {
		return "phone:" + p
	}
	if n := Text(first + " " + last); n != "" {
		return "name:" + n
	}
	return ""
}

// AddressKey derives the dedupe key for a raw address string.
func AddressKey(raw string) string {
	if t := Text(raw); t != "" {
		return "addr:" + t
	}
	return ""
}

// PlaceKey derives the dedupe key for a place. A named place at an address
// keys separately from the bare address so a colony and the residence it
// sits at stay distinct.
func PlaceKey(placeName, rawAddr string) string {
	base := AddressKey(rawAddr)
	if base == "" {
		base = "addr:unknown"
	}
	if pname := Text(placeName); pname != "" {
		return "place:" + pname + "|" + base
	}
	return "place:" + base
}

// AccountKey derives the dedupe key for an organizational account.
func AccountKey(name string) string {
	if t := Text(name); t != "" {
		return "org:" + t
	}
	return ""
}

// Microchip standardizes a microchip value: trimmed, uppercased, spreadsheet
// float artifacts removed. Chips shorter than 9 characters are rejected as
// junk and returned empty.
func Microchip(s string) string {
	s = CleanNumber(s)
	s = strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	if len(s) < 9 {
		return ""
	}
	return s
}
