package util

import (
	"strings"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
)

// CitationData describes a cited passage in a query response.
type CitationData struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Name        string `json:"name,omitempty"`
	SectionPath string `json:"section_path,omitempty"`
	Text        string `json:"text"`
}

// ResolveCitations maps cited sentence ids to the passages of the bundle.
// Ids the bundle does not contain are dropped.
func ResolveCitations(bundle *common.EvidenceBundle, citationIDs []string) []CitationData {
	if bundle == nil || len(citationIDs) == 0 {
		return []CitationData{}
	}

	byID := make(map[string]common.PassageEvidence, len(bundle.RankedPassages))
	for _, p := range bundle.RankedPassages {
		byID[p.SentenceID] = p
	}

	resolved := make([]CitationData, 0, len(citationIDs))
	seen := make(map[string]struct{}, len(citationIDs))
	for _, id := range citationIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		p, ok := byID[id]
		if !ok {
			continue
		}
		seen[id] = struct{}{}

		name := p.DocumentTitle
		if name == "" {
			name = p.DocumentID
		}
		resolved = append(resolved, CitationData{
			ID:          p.SentenceID,
			DocumentID:  p.DocumentID,
			Name:        name,
			SectionPath: p.SectionPath,
			Text:        p.Text,
		})
	}
	return resolved
}

// SplitConversation returns the question to answer and the history before it.
// An explicit query wins; otherwise the last user message is the question.
func SplitConversation(query string, messages []ai.ChatMessage) (string, []ai.ChatMessage) {
	if q := strings.TrimSpace(query); q != "" {
		return q, messages
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		if q := strings.TrimSpace(messages[i].Message); q != "" {
			return q, messages[:i]
		}
	}
	return "", nil
}
