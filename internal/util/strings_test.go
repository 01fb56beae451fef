package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter", "grant", 10, "grant"},
		{"exact", "refresh_to", 10, "refresh_to"},
		{"longer", "authorization_code_with_junk", 18, "authorization_code"},
		{"empty", "", 5, ""},
		{"zero", "password", 0, ""},
		{"negative", "password", -1, ""},
		{"cuts bytes not runes", "client世界", 8, "client\xe4\xb8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.want, SafeTruncate(tt.input, tt.maxLen))
			})
		})
	}
}

func TestFingerprint(t *testing.T) {
	code := "9b1c4e7a0d2f5c8e1a3b6d9f0c2e4a7b"

	fp := Fingerprint(code)
	assert.Len(t, fp, fingerprintLength)
	assert.Equal(t, fp, Fingerprint(code), "same input, same fingerprint")
	assert.NotEqual(t, fp, Fingerprint(code+"0"))
	assert.NotContains(t, code, fp)
	assert.Empty(t, Fingerprint(""))
}
