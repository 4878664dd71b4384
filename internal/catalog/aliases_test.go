package catalog

import "testing"

func TestAliasMapResolve(t *testing.T) {
	am := NewAliasMap(map[string][]string{
		"ha": {"H-Alpha", "Halpha 7nm"},
	})

	cases := map[string]string{
		"H-Alpha":     "ha",
		"Halpha 7nm":  "ha",
		"ha":          "ha",
		"OIII":        "oiii",
	}
	for input, want := range cases {
		if got := am.Resolve(input); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestAliasMapResolveNilReceiver(t *testing.T) {
	var am *AliasMap
	if got := am.Resolve("H-Alpha"); got != "h-alpha" {
		t.Fatalf("nil AliasMap should still normalize, got %q", got)
	}
}

func TestNormalizeLabel(t *testing.T) {
	if got := NormalizeLabel("  M 31  "); got != "m31" {
		t.Fatalf("NormalizeLabel = %q, want %q", got, "m31")
	}
}
