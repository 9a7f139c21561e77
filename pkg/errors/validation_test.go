package errors

import (
	"strings"
	"testing"
)

func TestValidateEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "/currencyoverview", false},
		{"valid nested", "/api/trade/search/Standard", false},
		{"valid without slash", "itemoverview", false},
		{"valid with dash and dot", "/v1/price-index.json", false},

		{"empty", "", true},
		{"blank", "   ", true},
		{"too long", "/" + strings.Repeat("a", 3000), true},
		{"absolute url", "https://evil.example/x", true},
		{"scheme relative", "//evil.example/x", true},
		{"path traversal", "/a/../b", true},
		{"backslash", "/a\\b", true},
		{"query string", "/items?league=Standard", true},
		{"fragment", "/items#top", true},
		{"null byte", "/a\x00b", true},
		{"newline", "/a\nb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEndpoint(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEndpoint(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !Is(err, ErrCodeInvalidEndpoint) {
				t.Errorf("ValidateEndpoint(%q) code = %v, want %v", tt.input, GetCode(err), ErrCodeInvalidEndpoint)
			}
		})
	}
}
