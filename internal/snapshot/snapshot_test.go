package snapshot

import "testing"

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Estate of Smith", "Estate-of-Smith"},
		{"Matter #42 (Probate)", "Matter-42-Probate"},
		{"", "matter"},
		{"///", "matter"},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
