package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var e164Regex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

func ValidateE164(phone string) error {
	if phone == "" {
		return fmt.Errorf("phone number is required")
	}

	phone = strings.TrimSpace(phone)

	if !e164Regex.MatchString(phone) {
		return fmt.Errorf("phone number must be in E.164 format (e.g., +79161234567)")
	}

	return nil
}

// NormalizeE164 strips separators and applies the default country prefix before
// validating. Numbers written with a national trunk "8" (11 digits) are rewritten
// to the +7 form; everything else must already carry a country code.
func NormalizeE164(phone, defaultCountry string) (string, error) {
	phone = strings.TrimSpace(phone)
	for _, sep := range []string{" ", "-", "(", ")"} {
		phone = strings.ReplaceAll(phone, sep, "")
	}

	if !strings.HasPrefix(phone, "+") {
		switch {
		case strings.HasPrefix(phone, "8") && len(phone) == 11:
			phone = "+7" + phone[1:]
		case defaultCountry != "" && len(phone) == 10:
			phone = defaultCountry + phone
		default:
			return "", fmt.Errorf("cannot normalize phone number: %s", phone)
		}
	}

	if err := ValidateE164(phone); err != nil {
		return "", err
	}

	return phone, nil
}
