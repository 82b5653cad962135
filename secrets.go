package autoprobe

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var forbiddenKeysRex = regexp.MustCompile(`(authorization|authorisation|cookie|password|.*secret.*|.*key.*|.*token.*)`)

// RedactSecret converts secrets to character-length-character notation, revealing up to an
// eighth of the secret on each side.
// Secrets of 4 characters or fewer become all asterisks, secrets of 5 to 7 characters (or any
// secret with a reveal of 0) become *-length-*.
// examples with a reveal value of 1:
//
//	"accessibility" becomes "a[11]y"
//	"ABCD" becomes "****"
//	"ABCDE" becomes "*3*"
//	"ABCDEFGH" becomes "A[6]H"
//
// with a reveal value of 2 "internationalisation" becomes "in[16]on"
func RedactSecret(secretStr string, reveal int) string {
	if reveal > (len(secretStr) / 8) {
		reveal = len(secretStr) / 8
	}

	switch {
	case len(secretStr) == 0:
		return ""
	case len(secretStr) < 5:
		return strings.Repeat("*", len(secretStr))
	case len(secretStr) <= 7 || reveal == 0:
		return fmt.Sprintf("*%d*", len(secretStr)-2)
	default:
		return fmt.Sprintf("%s[%d]%s", secretStr[0:reveal], len(secretStr)-(reveal*2), secretStr[(len(secretStr)-reveal):])
	}
}

// RedactQuery redacts the values of sensitive parameters in a raw URL query. A query that does
// not parse is redacted whole.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return RedactSecret(rawQuery, 0)
	}

	for key, vals := range values {
		if !forbiddenKeysRex.MatchString(strings.ToLower(key)) {
			continue
		}

		for i := range vals {
			vals[i] = RedactSecret(vals[i], 6)
		}
	}

	return values.Encode()
}
