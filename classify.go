package authflow

import "strings"

// ResetErrorClass routes a failed password-reset submission.
type ResetErrorClass uint8

const (
	// ResetErrorOther keeps the user on the new-password form.
	ResetErrorOther ResetErrorClass = iota
	// ResetErrorCodeRelated sends the user back to re-enter the code.
	ResetErrorCodeRelated
)

func (c ResetErrorClass) String() string {
	if c == ResetErrorCodeRelated {
		return "code_related"
	}
	return "other"
}

// ClassifyResetError decides whether a reset failure message is about the code.
//
// The backend only returns free text, so this is a substring match on "code" or
// "otp", case-insensitive. Replace it here if the backend grows structured errors.
func ClassifyResetError(message string) ResetErrorClass {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "code") || strings.Contains(lower, "otp") {
		return ResetErrorCodeRelated
	}
	return ResetErrorOther
}
