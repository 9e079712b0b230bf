package sanitize

import "testing"

func TestText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "Grace Hopper", "Grace Hopper"},
		{"tags stripped", "<b>Hopper</b> Antiques", "Hopper Antiques"},
		{"script removed", `Ada<script>alert("x")</script>`, "Ada"},
		{"entities decoded", "Hopper &amp; Sons", "Hopper & Sons"},
		{"bare ampersand kept", "Hopper & Sons", "Hopper & Sons"},
		{"whitespace collapsed", "  Ada \t\n Lovelace ", "Ada Lovelace"},
		{"control characters dropped", "Ada\x00\x07 Lovelace", "Ada Lovelace"},
		{"unicode kept", "Zoë Ñúñez", "Zoë Ñúñez"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.input); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
