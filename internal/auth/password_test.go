// ABOUTME: Password policy truth table and bcrypt round-trip tests
// ABOUTME: Covers length, character classes, and the blacklist

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPasswordStrong(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     bool
	}{
		{"meets all requirements", "Correct-Horse7!", true},
		{"minimum length exactly", "Abcdefgh1!xx", true},
		{"too short", "Short1!aB", false},
		{"empty", "", false},
		{"no uppercase", "lowercase-only7!", false},
		{"no lowercase", "UPPERCASE-ONLY7!", false},
		{"no digit", "No-Digits-Here!", false},
		{"no symbol", "NoSymbolsHere77", false},
		{"blacklisted exact", "bibliotheca123", false},
		{"blacklisted mixed case", "BiBlIoThEcA123", false},
		{"blacklisted with classes satisfied", "Password123!", false},
		{"long passphrase", "battery staple Correct 9!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPasswordStrong(tt.password))
		})
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Correct-Horse7!")
	require.NoError(t, err)
	assert.NotEqual(t, "Correct-Horse7!", hash)

	assert.True(t, CheckPassword(hash, "Correct-Horse7!"))
	assert.False(t, CheckPassword(hash, "wrong-password"))
	assert.False(t, CheckPassword("", "Correct-Horse7!"))
}

func TestPasswordRequirementsListsPolicy(t *testing.T) {
	reqs := PasswordRequirements()
	require.NotEmpty(t, reqs)
	assert.Contains(t, reqs[0], "12")
}
