package sentence

import (
	"regexp"
	"strings"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
)

var (
	markupTag   = regexp.MustCompile(`<[^<>]{1,64}>`)
	boilerplate = regexp.MustCompile(`(?i)\b(signature|signed by|authori[sz]ed (representative|signatory)|all rights reserved|page \d+ of \d+|confidential(ity)? notice)\b`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// StripMarkup removes inline markup tags and collapses whitespace.
func StripMarkup(text string) string {
	text = markupTag.ReplaceAllString(text, " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// Denoise returns the cleaned text of s and whether it is worth keeping.
//
// Curated kinds only get markup stripped. Other sentences are dropped when
// they carry two or more markup tags, are shorter than 25 characters, look
// like signature or boilerplate lines, are shorter than 60 characters and end
// in a colon, or are shorter than 50 characters without sentence-ending
// punctuation.
func Denoise(s common.Sentence) (string, bool) {
	if common.IsCuratedKind(s.SourceKind) {
		clean := StripMarkup(s.Text)
		return clean, clean != ""
	}

	if len(markupTag.FindAllStringIndex(s.Text, 2)) >= 2 {
		return "", false
	}
	clean := StripMarkup(s.Text)
	n := len([]rune(clean))
	switch {
	case n < 25:
		return "", false
	case boilerplate.MatchString(clean):
		return "", false
	case n < 60 && strings.HasSuffix(clean, ":"):
		return "", false
	case n < 50 && !endsSentence(clean):
		return "", false
	}
	return clean, true
}

func endsSentence(s string) bool {
	s = strings.TrimRight(s, `"')]”’`)
	if s == "" {
		return false
	}
	switch s[len(s)-1:] {
	case ".", "!", "?", ";":
		return true
	}
	return strings.HasSuffix(s, "。") || strings.HasSuffix(s, "！") || strings.HasSuffix(s, "？")
}
