package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CodeLength is the fixed length of a device code.
const CodeLength = 6

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var validate = validator.New()

type codeInput struct {
	Code string `validate:"required,alphanum,len=6"`
}

// NormalizeCode trims surrounding whitespace and upper-cases a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCode normalizes code and checks it is a 6-character alphanumeric
// string. It returns the normalized code.
func ValidateCode(code string) (string, error) {
	normalized := NormalizeCode(code)
	if err := validate.Struct(codeInput{Code: normalized}); err != nil {
		return "", fmt.Errorf("%w: device code must be %d alphanumeric characters", ErrInvalidInput, CodeLength)
	}
	return normalized, nil
}

// GenerateCode returns a random uppercase alphanumeric device code.
func GenerateCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate device code: %w", err)
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
