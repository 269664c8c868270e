package validator

import "strings"

// SanitizeString trims whitespace and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}

// ValidateName checks a chat or group display name
func ValidateName(name string) bool {
	name = strings.TrimSpace(name)
	return len(name) >= 1 && len(name) <= 100
}
