package utils

import (
	"regexp"
	"strings"
)

// MaskPhoneNumber masks a phone number for logging
// Example: +79161234567 -> +7916•••4567
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	phone = strings.TrimSpace(phone)

	// E.164 format: +[country][number]
	// Show country code + first 3 digits, mask the middle, show last 4
	re := regexp.MustCompile(`^(\+)(\d{1,3})(\d{3})(\d+)$`)
	matches := re.FindStringSubmatch(phone)

	if len(matches) == 5 {
		countryCode := matches[2]
		first3 := matches[3]
		lastDigits := matches[4]

		if len(lastDigits) >= 4 {
			last4 := lastDigits[len(lastDigits)-4:]
			masked := strings.Repeat("•", len(lastDigits)-4)
			return "+" + countryCode + first3 + masked + last4
		}
	}

	// Fallback: mask all but last 4 characters
	if len(phone) > 4 {
		masked := strings.Repeat("•", len(phone)-4)
		return masked + phone[len(phone)-4:]
	}

	return strings.Repeat("•", len(phone))
}

// ValidateE164 reports whether phone is in E.164 format
func ValidateE164(phone string) bool {
	re := regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	return re.MatchString(phone)
}
