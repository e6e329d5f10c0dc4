package character

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Name != "Kokoro" {
		t.Errorf("name: %q", c.Name)
	}
	p := c.Prompt()
	for _, want := range []string{"You are Kokoro.", "Traits: attentive, warm, concise.", "- Ask at most one question at a time.", "untrusted input"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "bio: hi\n", "name is required"},
		{"missing bio", "name: K\n", "bio is required"},
		{"long name", "name: " + strings.Repeat("k", 65) + "\nbio: hi\n", "longer than"},
		{"empty trait", "name: K\nbio: hi\ntraits: ['']\n", "traits[0]"},
		{"unknown key", "name: K\nbio: hi\nmood: sunny\n", "mood"},
		{"not yaml", "name: [unclosed\n", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	fsys := fstest.MapFS{
		"personas/sora.yaml": {Data: []byte("name: Sora\nbio: Looks at the sky.\ntopics: [clouds, weather]\n")},
	}

	c, err := Load(fsys, "personas/sora.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := c.Prompt()
	if !strings.HasPrefix(p, "You are Sora. Looks at the sky.") {
		t.Errorf("prompt: %q", p)
	}
	if !strings.Contains(p, "Interests: clouds, weather.") {
		t.Errorf("prompt missing topics: %q", p)
	}
	if strings.Contains(p, "Traits:") {
		t.Errorf("empty sections should be omitted: %q", p)
	}

	if _, err := Load(fsys, "personas/missing.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
