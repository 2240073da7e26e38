package canonical

import (
	"fmt"
	"reflect"
	"testing"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		locale string
		want   string
	}{
		{"Lowercase", "Acme Corp", LocaleAuto, "acme corp"},
		{"Punctuation", "Acme, Corp.", LocaleAuto, "acme corp"},
		{"Whitespace", "  Acme \t  Corp \n", LocaleAuto, "acme corp"},
		{"FullwidthLatin", "ＡＣＭＥ", LocaleAuto, "acme"},
		{"Symbols", "Invoice #1256003", LocaleAuto, "invoice 1256003"},
		{"CJKKeepsSpacing", "東京 タワー", LocaleAuto, "東京 タワー"},
		{"CJKNFKC", "ｶﾀｶﾅ", LocaleAuto, "カタカナ"},
		{"CJKForced", "Tokyo Tower", LocaleCJK, "Tokyo Tower"},
		{"LatinForced", "Ｔｏｋｙｏ", LocaleLatin, "tokyo"},
		{"Empty", "   ", LocaleAuto, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Key(tc.in, tc.locale)
			if got != tc.want {
				t.Fatalf("Key(%q) = %q, want %q", tc.in, got, tc.want)
			}
			if again := Key(tc.in, tc.locale); again != got {
				t.Fatalf("Key is not deterministic: %q vs %q", got, again)
			}
		})
	}
}

func TestStableID(t *testing.T) {
	id := StableID("tenant-a", "acme corp")
	if len(id) != 36 {
		t.Fatalf("expected 36 chars, got %d (%s)", len(id), id)
	}
	if id != StableID("tenant-a", "acme corp") {
		t.Fatal("StableID not deterministic")
	}
	if id == StableID("tenant-b", "acme corp") {
		t.Fatal("ids must differ across tenants")
	}
	if len(StableID("t", "東京タワー")) != 36 {
		t.Fatal("CJK keys must produce fixed-length ids")
	}
}

func TestStableIDNoCollisions(t *testing.T) {
	seen := make(map[string]string)
	for tenant := 0; tenant < 5; tenant++ {
		for i := 0; i < 2000; i++ {
			tenantID := fmt.Sprintf("tenant-%d", tenant)
			key := fmt.Sprintf("entity %d", i)
			id := StableID(tenantID, key)
			pair := tenantID + "/" + key
			if prev, ok := seen[id]; ok {
				t.Fatalf("collision between %s and %s", prev, pair)
			}
			seen[id] = pair
		}
	}
}

func TestGenericAlias(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"Invoice #1256003", "Invoice", true},
		{"Acme Corp", "Acme", true},
		{"Contract: Phase 2", "Contract", true},
		{"Builder-Co Ltd", "Builder", true},
		{"Acme", "", false},
		{"AB Holdings", "", false},
		{"12 Monkeys", "", false},
		{"", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := GenericAlias(tc.in)
			if got != tc.want || ok != tc.wantOK {
				t.Fatalf("GenericAlias(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestAliasKeys(t *testing.T) {
	got := AliasKeys("Acme Corp", []string{"Acme Construction", "ACME CORP"})
	want := []string{"acme corp", "acme", "acme construction"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AliasKeys() = %v, want %v", got, want)
	}
}

func TestLookupKeys(t *testing.T) {
	if got := LookupKeys("Acme"); !reflect.DeepEqual(got, []string{"acme"}) {
		t.Fatalf("LookupKeys(Acme) = %v", got)
	}
	got := LookupKeys("Invoice #42")
	want := []string{"invoice 42", "invoice"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("LookupKeys() = %v, want %v", got, want)
	}
}
