package validation

import (
	"strings"
	"testing"
)

func TestValidateAlias(t *testing.T) {
	tests := []struct {
		name    string
		alias   string
		wantErr bool
	}{
		// Valid aliases
		{"simple", "champion", false},
		{"single char", "a", false},
		{"with digit", "challenger2", false},
		{"with dot", "v1.4.2", false},
		{"with underscore", "house_pricing", false},
		{"with hyphen", "random-forest", false},
		{"max length", strings.Repeat("a", 64), false},

		// Invalid aliases - traversal and injection attempts
		{"empty", "", true},
		{"path traversal", "../../etc/passwd", true},
		{"absolute path", "/etc/passwd", true},
		{"uppercase", "Champion", true},
		{"too long", strings.Repeat("a", 65), true},
		{"spaces", "cham pion", true},
		{"newline", "champion\nFORGED", true},
		{"starts with dot", ".hidden", true},
		{"starts with hyphen", "-flag", true},
		{"null byte", "champ\x00ion", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAlias(tt.alias)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAlias(%q) error = %v, wantErr %v", tt.alias, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeAlias(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"already clean", "champion", "champion", false},
		{"uppercase normalized", "CHAMPION", "champion", false},
		{"whitespace trimmed", "  challenger  ", "challenger", false},
		{"invalid after trim", "  ../up  ", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeAlias(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizeAlias(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SanitizeAlias(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateRole(t *testing.T) {
	if err := ValidateRole("champion"); err != nil {
		t.Errorf("ValidateRole(champion) = %v, want nil", err)
	}
	if err := ValidateRole("challenger"); err != nil {
		t.Errorf("ValidateRole(challenger) = %v, want nil", err)
	}
	if err := ValidateRole("shadow"); err == nil {
		t.Error("ValidateRole(shadow) = nil, want error")
	}
	if err := ValidateRole(""); err == nil {
		t.Error("ValidateRole(\"\") = nil, want error")
	}
}

func TestSanitizeLogValue(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"clean passthrough", "req-1234", 64, "req-1234"},
		{"newline replaced", "line1\nline2", 64, "line1 line2"},
		{"crlf replaced", "a\r\nb", 64, "a  b"},
		{"escape replaced", "x\x1b[31mred", 64, "x [31mred"},
		{"truncated", "abcdefgh", 4, "abcd..."},
		{"zero maxLen uses default", "ok", 0, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeLogValue(tt.input, tt.maxLen)
			if got != tt.want {
				t.Errorf("SanitizeLogValue(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}
