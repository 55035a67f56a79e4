package utils

import (
	"regexp"
	"strings"
)

var (
	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	e164Pattern     = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
)

// ValidPhone accepts E.164 numbers with or without the leading "+",
// ignoring common separators.
func ValidPhone(raw string) bool {
	return e164Pattern.MatchString(phoneSeparators.Replace(strings.TrimSpace(raw)))
}

// NormalizePhone strips separators and adds a "+" prefix. Bare ten digit
// numbers get defaultCountryCode (e.g. "91") prepended.
func NormalizePhone(raw, defaultCountryCode string) string {
	p := phoneSeparators.Replace(strings.TrimSpace(raw))
	if strings.HasPrefix(p, "+") {
		return p
	}
	if len(p) == 10 && defaultCountryCode != "" {
		return "+" + strings.TrimPrefix(defaultCountryCode, "+") + p
	}
	return "+" + p
}
