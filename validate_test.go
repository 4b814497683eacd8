package authflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidEmail(t *testing.T) {
	valid := []string{"a@b.com", "first.last@example.co.uk", "o'neil+tag@mail.example.org"}
	invalid := []string{
		"",
		"a",
		"a@b",
		"@b.com",
		"a@.com",
		"a b@c.com",
		"Name <a@b.com>",
		strings.Repeat("a", 250) + "@b.com",
	}

	for _, email := range valid {
		assert.True(t, ValidEmail(email), email)
	}
	for _, email := range invalid {
		assert.False(t, ValidEmail(email), email)
	}
}

func TestSanitizeEmail(t *testing.T) {
	assert.Equal(t, "a@b.com", SanitizeEmail("  A@B.Com\n"))
}

func TestValidCode(t *testing.T) {
	assert.True(t, ValidCode("123456", 6))
	assert.True(t, ValidCode("000000", 6))
	assert.False(t, ValidCode("12345", 6))
	assert.False(t, ValidCode("1234567", 6))
	assert.False(t, ValidCode("12345a", 6))
	assert.False(t, ValidCode("١٢٣٤٥٦", 6))
}

func TestFilterCodeInput(t *testing.T) {
	assert.Equal(t, "123456", FilterCodeInput("123-456-789", 6))
	assert.Equal(t, "12", FilterCodeInput("a1b2", 6))
	assert.Equal(t, "", FilterCodeInput("abc", 6))
}

func TestBlurEmail(t *testing.T) {
	assert.Equal(t, "a****@b.com", BlurEmail("alice@b.com"))
	assert.Equal(t, "****@**", BlurEmail("nope"))
}
