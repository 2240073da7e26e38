package neo4j

import (
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4j cosine vector indexes report (1 + cos) / 2.
func cosineFromIndexScore(score float64) float64 {
	return 2*score - 1
}

func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	return asString(val)
}

func getFloatFromRecord(record *neo4j.Record, key string) float64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	return asFloat(val)
}

func getIntFromRecord(record *neo4j.Record, key string) int {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	return int(asFloat(val))
}

func getStringsFromRecord(record *neo4j.Record, key string) []string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	list, ok := val.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s := asString(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getVectorFromRecord(record *neo4j.Record, key string) []float32 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	list, ok := val.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	out := make([]float32, len(list))
	for i, v := range list {
		out[i] = float32(asFloat(v))
	}
	return out
}

func getSentenceFromRecord(record *neo4j.Record, key string) common.Sentence {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return common.Sentence{}
	}
	m, ok := val.(map[string]any)
	if !ok {
		return common.Sentence{}
	}
	kind := asString(m["source_kind"])
	if kind == "" {
		kind = common.SourceKindParagraph
	}
	return common.Sentence{
		ID:            asString(m["id"]),
		Text:          asString(m["text"]),
		SourceKind:    kind,
		Page:          int(asFloat(m["page"])),
		SectionPath:   asString(m["section_path"]),
		SectionID:     asString(m["section_id"]),
		DocumentID:    asString(m["document_id"]),
		DocumentTitle: asString(m["document_title"]),
		ChunkID:       asString(m["chunk_id"]),
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
