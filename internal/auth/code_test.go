package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomCode_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := RandomCode()
		require.NoError(t, err)
		require.Len(t, code, CodeDigits)
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("RandomCode() = %q contains non-digit %q", code, r)
			}
		}
	}
}

func TestRandomCode_Varies(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code, err := RandomCode()
		require.NoError(t, err)
		seen[code] = struct{}{}
	}
	// 50 draws from a million values colliding down to one is not a real outcome.
	assert.Greater(t, len(seen), 1)
}

func TestFixedCode(t *testing.T) {
	gen := FixedCode("000000")

	for i := 0; i < 3; i++ {
		code, err := gen()
		require.NoError(t, err)
		assert.Equal(t, "000000", code)
	}
}
