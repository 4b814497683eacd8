package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
)

const (
	minOTPDigits = 4
	maxOTPDigits = 10
)

// NewOTP returns a uniformly random numeric code of the given length,
// zero-padded on the left.
func NewOTP(digits int) (string, error) {
	if digits < minOTPDigits || digits > maxOTPDigits {
		return "", fmt.Errorf("otp length %d outside [%d, %d]", digits, minOTPDigits, maxOTPDigits)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("otp entropy: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

// HashCode returns the digest stored in place of a plaintext code.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}
