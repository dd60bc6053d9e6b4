package identity

import (
	"strings"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name string
		pw   string
		ok   bool
	}{
		{"too short", "short", false},
		{"minimum", strings.Repeat("a", MinPasswordLength), true},
		{"bcrypt limit", strings.Repeat("a", MaxPasswordBytes), true},
		{"over bcrypt limit", strings.Repeat("a", MaxPasswordBytes+1), false},
		{"multibyte over limit", strings.Repeat("ä", 40), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.pw)
			if (err == nil) != tt.ok {
				t.Fatalf("ValidatePassword(%d bytes) = %v, want ok=%v", len(tt.pw), err, tt.ok)
			}
		})
	}
}
