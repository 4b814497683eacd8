package authflow

import (
	"net/mail"
	"regexp"
	"strings"
)

const maxEmailLength = 254

var emailRule = regexp.MustCompile(`^[a-zA-Z0-9._%+'-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// SanitizeEmail lower-cases and trims an email address.
func SanitizeEmail(email string) string {
	email = strings.ToLower(email)
	email = strings.Trim(email, " \t\n\r")
	return email
}

// ValidEmail reports whether email is a plain address of the form local@domain.tld.
func ValidEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	return emailRule.MatchString(email)
}

// ValidCode reports whether code is exactly digits ASCII decimal digits.
func ValidCode(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// FilterCodeInput keeps only digits from typed input and truncates to digits
// characters, mirroring what a numeric code field accepts.
func FilterCodeInput(input string, digits int) string {
	var b strings.Builder
	b.Grow(digits)
	for i := 0; i < len(input) && b.Len() < digits; i++ {
		if input[i] >= '0' && input[i] <= '9' {
			b.WriteByte(input[i])
		}
	}
	return b.String()
}

// BlurEmail hides most of the local part so addresses can be logged.
func BlurEmail(email string) string {
	items := strings.Split(email, "@")
	if len(items) < 2 || len(items[0]) < 1 {
		return "****@**"
	}

	return string([]rune(items[0])[0]) + "****@" + strings.Join(items[1:], "")
}
