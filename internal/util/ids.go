package util

import (
	"regexp"
	"strings"
)

var (
	reBoldCitation   = regexp.MustCompile(`\*\*\s*(\[\[?[^][]+\]\]?)\s*\*\*`)
	reSingleCitation = regexp.MustCompile(`\[([^][\s]+)\](?:[^(]|$)`)
	reCitation       = regexp.MustCompile(`\[\[([^][]+)\]\]`)
	reCitationRun    = regexp.MustCompile(`(\[\[[^][]+\]\])(?:[\t ]*(\[\[[^][]+\]\]))+`)
)

// NormalizeCitations rewrites model output so that every citation of a known
// evidence id has the form [[id]]. Bold wrappers are removed, single-bracket
// citations of known ids are upgraded, adjacent duplicates collapse, and
// citations of ids outside known are dropped.
func NormalizeCitations(s string, known map[string]struct{}) string {
	s = reBoldCitation.ReplaceAllString(s, "$1")

	s = replaceSubmatchFunc(reSingleCitation, s, func(full string, id string) string {
		if _, ok := known[id]; !ok {
			return full
		}
		return strings.Replace(full, "["+id+"]", "[["+id+"]]", 1)
	})

	s = reCitation.ReplaceAllStringFunc(s, func(tok string) string {
		id := strings.TrimSpace(tok[2 : len(tok)-2])
		if _, ok := known[id]; !ok {
			return ""
		}
		return "[[" + id + "]]"
	})

	s = reCitationRun.ReplaceAllStringFunc(s, dedupeCitationRun)
	return s
}

// ExtractCitations returns the cited ids in first-seen order.
func ExtractCitations(s string) []string {
	matches := reCitation.FindAllStringSubmatch(s, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		id := strings.TrimSpace(m[1])
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func dedupeCitationRun(run string) string {
	tokens := reCitation.FindAllString(run, -1)
	var b strings.Builder
	var prev string
	for _, tok := range tokens {
		if tok == prev {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
		prev = tok
	}
	return b.String()
}

func replaceSubmatchFunc(re *regexp.Regexp, s string, fn func(full, group string) string) string {
	idx := re.FindAllStringSubmatchIndex(s, -1)
	if len(idx) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	cursor := 0
	for _, m := range idx {
		// skip the inner half of an existing [[id]]
		if m[0] > 0 && s[m[0]-1] == '[' {
			continue
		}
		b.WriteString(s[cursor:m[0]])
		b.WriteString(fn(s[m[0]:m[1]], s[m[2]:m[3]]))
		cursor = m[1]
	}
	b.WriteString(s[cursor:])
	return b.String()
}
