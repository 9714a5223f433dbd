package phone

import "testing"

func TestNormalizeE164(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"202-456-1414", "+12024561414"},
		{"(202) 456-1414", "+12024561414"},
		{"+1 202 456 1414", "+12024561414"},
		{"  +12024561414  ", "+12024561414"},
		{"", ""},
		{"123", "123"},
		{"not a number", "not a number"},
	}
	for _, tc := range tests {
		if got := NormalizeE164(tc.input); got != tc.want {
			t.Errorf("NormalizeE164(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
