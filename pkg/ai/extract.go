package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
)

type entityNamesResponse struct {
	Names []string `json:"names" jsonschema:"description=Entity names exactly as written in the query"`
}

type sectionIndexesResponse struct {
	Indexes []int `json:"indexes" jsonschema:"description=Indexes of the relevant sections"`
}

// LLMNameExtractor implements NameExtractor with a structured completion.
type LLMNameExtractor struct {
	client GraphAIClient
	opts   []GenerateOption
}

func NewLLMNameExtractor(client GraphAIClient, opts ...GenerateOption) *LLMNameExtractor {
	return &LLMNameExtractor{client: client, opts: opts}
}

func (e *LLMNameExtractor) ExtractEntityNames(ctx context.Context, query string) ([]string, error) {
	var res entityNamesResponse
	prompt := fmt.Sprintf(EntityNamePrompt, query)
	if err := e.client.GenerateCompletionWithFormat(
		ctx,
		"entity_names",
		"Named entities mentioned in a search query",
		prompt,
		&res,
		e.opts...,
	); err != nil {
		return nil, fmt.Errorf("failed to extract entity names: %w", err)
	}

	out := make([]string, 0, len(res.Names))
	seen := make(map[string]struct{}, len(res.Names))
	for _, n := range res.Names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

// LLMSectionSelector implements SectionSelector by asking the model to pick
// headings by index, so it can never return ids that were not offered.
type LLMSectionSelector struct {
	client GraphAIClient
	opts   []GenerateOption
}

func NewLLMSectionSelector(client GraphAIClient, opts ...GenerateOption) *LLMSectionSelector {
	return &LLMSectionSelector{client: client, opts: opts}
}

func (s *LLMSectionSelector) SelectRelevantSections(
	ctx context.Context,
	query string,
	headings []common.SectionHeading,
	limit int,
) ([]string, error) {
	if len(headings) == 0 || limit <= 0 {
		return nil, nil
	}

	var list strings.Builder
	for i, h := range headings {
		path := h.Path
		if path == "" {
			path = h.Title
		}
		fmt.Fprintf(&list, "%d: %s\n", i, path)
	}

	var res sectionIndexesResponse
	prompt := fmt.Sprintf(SectionSelectPrompt, query, list.String(), limit)
	if err := s.client.GenerateCompletionWithFormat(
		ctx,
		"section_selection",
		"Sections relevant to a question",
		prompt,
		&res,
		s.opts...,
	); err != nil {
		return nil, fmt.Errorf("failed to select sections: %w", err)
	}

	ids := make([]string, 0, min(limit, len(res.Indexes)))
	seen := make(map[int]struct{}, len(res.Indexes))
	for _, idx := range res.Indexes {
		if idx < 0 || idx >= len(headings) {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		ids = append(ids, headings[idx].ID)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}
