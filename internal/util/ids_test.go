package util

import (
	"reflect"
	"testing"
)

func TestNormalizeCitations(t *testing.T) {
	known := map[string]struct{}{"s1": {}, "s2": {}}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"AlreadyNormal", "Fact [[s1]].", "Fact [[s1]]."},
		{"BoldDouble", "Fact **[[s1]]**.", "Fact [[s1]]."},
		{"SingleUpgraded", "Fact [s2].", "Fact [[s2]]."},
		{"SingleUnknownKept", "See [note].", "See [note]."},
		{"MarkdownLinkKept", "See [s1](http://x).", "See [s1](http://x)."},
		{"UnknownDropped", "Fact [[zz]].", "Fact ."},
		{"AdjacentDuplicates", "Fact [[s1]] [[s1]] [[s2]].", "Fact [[s1]] [[s2]]."},
		{"AtEnd", "Fact [s1]", "Fact [[s1]]"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeCitations(tc.in, known)
			if got != tc.want {
				t.Fatalf("NormalizeCitations(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtractCitations(t *testing.T) {
	got := ExtractCitations("a [[s2]] b [[s1]] c [[s2]]")
	want := []string{"s2", "s1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractCitations() = %v, want %v", got, want)
	}
}
