package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	MinContentLength = 3
	MaxContentLength = 50
)

const contentPunctuation = `.,;:!?()'"-`

// NormalizeContent trims the content and converts it to NFC so composed and
// decomposed accented letters compare equal.
func NormalizeContent(content string) string {
	return norm.NFC.String(strings.TrimSpace(content))
}

// ValidateContent checks the normalised content against the length and
// character set rules and returns the normalised form.
func ValidateContent(content string) (string, error) {
	c := NormalizeContent(content)
	n := utf8.RuneCountInString(c)
	if n < MinContentLength {
		return c, &ValidationError{Field: "content", Reason: "must be at least 3 characters"}
	}
	if n > MaxContentLength {
		return c, &ValidationError{Field: "content", Reason: "must be at most 50 characters"}
	}
	for _, r := range c {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		// combining accents that NFC could not fold into a letter
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if strings.ContainsRune(contentPunctuation, r) {
			continue
		}
		return c, &ValidationError{Field: "content", Reason: "contains invalid character " + string(r)}
	}
	return c, nil
}

// ValidateStatus rejects statuses outside the known set.
func ValidateStatus(s Status) error {
	if !s.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(s)}
	}
	return nil
}

func contentKey(content string) string {
	return strings.ToLower(NormalizeContent(content))
}
