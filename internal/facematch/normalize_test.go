package facematch

import "testing"

func TestCleanDisplayName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"unchanged", "Ana Maria", "Ana Maria"},
		{"trimmed", "  Alice\t", "Alice"},
		{"inner whitespace collapsed", "Jan \n  Novák", "Jan Novák"},
		{"control characters dropped", "Bob\x00\x07by", "Bobby"},
		{"keeps diacritics", "Žofie", "Žofie"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanDisplayName(tt.input); got != tt.want {
				t.Errorf("CleanDisplayName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizePersonName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Jan Novák", "jan novak"},
		{"jan-novak", "jan novak"},
		{"ana_maria", "ana maria"},
		{"J. R. Smith", "j r smith"},
		{"O'Brien", "obrien"},
		{"  Guest   42 ", "guest 42"},
		{"Žluťoučký kůň", "zlutoucky kun"},
		{"", ""},
		{"---", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizePersonName(tt.input); got != tt.want {
				t.Errorf("NormalizePersonName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSameName(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Jiří", "jiri", true},
		{"Ana-Maria", "ana maria", true},
		{"Ana", "Anna", false},
		{"", "", false},
		{"-", "_", false},
	}

	for _, tt := range tests {
		if got := SameName(tt.a, tt.b); got != tt.want {
			t.Errorf("SameName(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
