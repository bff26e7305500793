// internal/pkg/phone/phone.go
package phone

import (
	"strings"

	xerrors "mikrobill-service/internal/pkg/errors"
)

// CountryCode is the Kenyan dialling prefix all normalized numbers carry.
const CountryCode = "254"

// Normalize converts a Kenyan mobile number into canonical international form
// without the plus sign, e.g. "0712345678" -> "254712345678".
//
// Accepted input shapes:
//
//	0712345678
//	712345678
//	+254712345678
//	254712345678
//
// Anything that does not reduce to nine digits starting with 7 after stripping
// the prefix markers fails with ErrInvalidPhoneFormat.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", xerrors.ErrInvalidPhoneFormat
	}

	s = strings.TrimPrefix(s, "+")

	// Strip at most one leading marker: either the trunk "0" or the country code.
	switch {
	case strings.HasPrefix(s, CountryCode):
		s = s[len(CountryCode):]
	case strings.HasPrefix(s, "0"):
		s = s[1:]
	}

	if len(s) != 9 || s[0] != '7' || !isDigits(s) {
		return "", xerrors.ErrInvalidPhoneFormat
	}

	return CountryCode + s, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
