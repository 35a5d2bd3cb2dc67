package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeDigits is the length of an SMS verification code.
const CodeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// CodeGenerator produces SMS verification codes.
type CodeGenerator func() (string, error)

// RandomCode returns a uniformly random, zero-padded 6-digit code.
// rand.Int samples without modulo bias.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("auth: generating code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}

// FixedCode always returns code. Sandbox deployments use it so end-to-end
// tests know the code without reading SMS.
func FixedCode(code string) CodeGenerator {
	return func() (string, error) {
		return code, nil
	}
}
