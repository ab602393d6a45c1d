package phone

import (
	"strings"

	"waygate/internal/pkg/errors"
)

const wireSuffix = "@s.whatsapp.net"

// Normalize cleans a Brazilian phone number down to digits, prepends the
// country code when missing and inserts the ninth digit for mobile numbers.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	if !strings.HasPrefix(cleaned, "55") {
		cleaned = "55" + cleaned
	}

	if len(cleaned) < 12 || len(cleaned) > 13 {
		return "", errors.InvalidInput("invalid phone number length")
	}

	// 12-digit numbers are missing the ninth digit; mobile numbers start
	// with 7, 8 or 9 after the area code.
	if len(cleaned) == 12 {
		areaCode := cleaned[2:4]
		number := cleaned[4:]
		if number[0] == '7' || number[0] == '8' || number[0] == '9' {
			cleaned = "55" + areaCode + "9" + number
		}
	}

	return cleaned, nil
}

// WireAddress converts a raw phone number into the address the chat client
// sends to.
func WireAddress(raw string) (string, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	return normalized + wireSuffix, nil
}

func IsValid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}
