// Package canonical maps entity surface names to tenant-scoped stable ids.
//
// The functions are pure: the same input yields the same key and id on every
// process, so ingestion and query time agree without coordination.
package canonical

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Locales accepted by Key. LocaleAuto detects CJK script from the name itself.
const (
	LocaleAuto  = ""
	LocaleLatin = "latin"
	LocaleCJK   = "cjk"
)

// namespace for name-based entity ids. Changing it re-keys every entity.
var namespace = uuid.MustParse("6f1d8e2a-3c4b-5d6e-9f70-8a1b2c3d4e5f")

const minAliasLetters = 3

// Key returns the canonical key of name.
//
// Latin script: NFKC, lowercased, punctuation and symbols removed, whitespace
// collapsed to single spaces. CJK script: NFKC and trimmed only; case and
// internal spacing are preserved.
func Key(name, locale string) string {
	normalized := norm.NFKC.String(name)
	if locale == LocaleCJK || (locale == LocaleAuto && ContainsCJK(normalized)) {
		return strings.TrimSpace(normalized)
	}

	var b strings.Builder
	b.Grow(len(normalized))
	pendingSpace := false
	for _, r := range normalized {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// ContainsCJK reports whether s contains Han, Hiragana, Katakana or Hangul runes.
func ContainsCJK(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			return true
		}
	}
	return false
}

// StableID derives the entity id for key within tenantID.
// The result is a 36 character UUIDv5 string.
func StableID(tenantID, key string) string {
	return uuid.NewSHA1(namespace, []byte(tenantID+"\x00"+key)).String()
}

// EntityID is StableID over the auto-detected key of name.
func EntityID(tenantID, name string) string {
	return StableID(tenantID, Key(name, LocaleAuto))
}

// GenericAlias derives a short alias from a qualified name.
//
// The alias is the text before the first '#', ':' or '-' when one is present,
// otherwise the leading whitespace-delimited token. It is only returned when
// it holds at least three letters and canonicalizes differently from name.
//
//	GenericAlias("Invoice #1256003") // "Invoice", true
//	GenericAlias("Acme Corp")        // "Acme", true
//	GenericAlias("Acme")             // "", false
func GenericAlias(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false
	}

	var alias string
	if idx := strings.IndexAny(trimmed, "#:-"); idx >= 0 {
		alias = strings.TrimSpace(trimmed[:idx])
	} else {
		fields := strings.Fields(trimmed)
		alias = fields[0]
	}

	letters := 0
	for _, r := range alias {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < minAliasLetters {
		return "", false
	}
	if Key(alias, LocaleAuto) == Key(trimmed, LocaleAuto) {
		return "", false
	}
	return alias, true
}

// AliasKeys returns the distinct canonical keys under which an entity named
// name with the given aliases can be found: the name itself, every alias,
// and the generic alias of each.
func AliasKeys(name string, aliases []string) []string {
	seen := make(map[string]struct{}, 2+2*len(aliases))
	keys := make([]string, 0, 2+2*len(aliases))
	add := func(s string) {
		k := Key(s, LocaleAuto)
		if k == "" {
			return
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	for _, n := range append([]string{name}, aliases...) {
		add(n)
		if g, ok := GenericAlias(n); ok {
			add(g)
		}
	}
	return keys
}

// LookupKeys returns the keys to try, in order, when resolving a name
// extracted from a query: its own key first, then its generic alias.
func LookupKeys(name string) []string {
	keys := make([]string, 0, 2)
	if k := Key(name, LocaleAuto); k != "" {
		keys = append(keys, k)
	}
	if g, ok := GenericAlias(name); ok {
		if k := Key(g, LocaleAuto); k != "" && (len(keys) == 0 || keys[0] != k) {
			keys = append(keys, k)
		}
	}
	return keys
}
