package common

// Entity is a node of the tenant knowledge graph. Its ID is derived from the
// tenant and the canonical key of Name, so the same name always maps to the
// same entity within a tenant.
type Entity struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Aliases     []string  `json:"aliases,omitempty"`
	Type        string    `json:"type,omitempty"`
	Embedding   []float32 `json:"-"`
	TextUnitIDs []string  `json:"text_unit_ids,omitempty"`
}

// Relationship is an undirected weighted edge between two entities.
type Relationship struct {
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Strength float64 `json:"strength"`
}

// Section is a node of a document's heading hierarchy.
//
// PathKey identifies the section inside its document (for example
// "2/2.1/2.1.3"); ParentPathKey is the PathKey of the enclosing section.
// StructuralEmbedding embeds the heading path only, SemanticEmbedding the
// section content.
type Section struct {
	ID                  string    `json:"id"`
	DocumentID          string    `json:"document_id"`
	PathKey             string    `json:"path_key"`
	ParentPathKey       string    `json:"parent_path_key,omitempty"`
	Title               string    `json:"title"`
	Depth               int       `json:"depth"`
	SemanticEmbedding   []float32 `json:"-"`
	StructuralEmbedding []float32 `json:"-"`
}

// SectionHeading is the lightweight view of a section used for LLM section selection.
type SectionHeading struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Title string `json:"title"`
}

// Sentence kinds. Curated kinds come from structured extraction and are never
// dropped by the denoiser.
const (
	SourceKindParagraph     = "paragraph"
	SourceKindHeading       = "heading"
	SourceKindListItem      = "list_item"
	SourceKindTableRow      = "table_row"
	SourceKindFigureCaption = "figure_caption"
	SourceKindKeyValue      = "key_value"
)

// IsCuratedKind reports whether sentences of kind bypass content heuristics.
func IsCuratedKind(kind string) bool {
	switch kind {
	case SourceKindTableRow, SourceKindFigureCaption, SourceKindKeyValue:
		return true
	}
	return false
}

// Sentence is the unit of vector evidence.
type Sentence struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	SourceKind    string    `json:"source_kind"`
	Embedding     []float32 `json:"-"`
	Page          int       `json:"page,omitempty"`
	SectionPath   string    `json:"section_path,omitempty"`
	SectionID     string    `json:"section_id,omitempty"`
	DocumentID    string    `json:"document_id"`
	DocumentTitle string    `json:"document_title,omitempty"`
	ChunkID       string    `json:"chunk_id,omitempty"`
}

// Community is a precomputed cluster of entities with a summary.
//
// Embedding and EmbeddingTextHash are the only fields the retrieval engine
// ever writes; Summary is owned by the offline community job.
type Community struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Summary           string    `json:"summary"`
	Embedding         []float32 `json:"-"`
	EmbeddingTextHash string    `json:"-"`
	MemberEntityIDs   []string  `json:"member_entity_ids"`
	MemberNames       []string  `json:"member_names,omitempty"`
	Rank              float64   `json:"rank"`
	Level             int       `json:"level"`
}

// CommunityMatch is a community scored against a query.
type CommunityMatch struct {
	Community Community `json:"community"`
	Score     float64   `json:"score"`
}

// WeightedSeed is one entry of the PPR teleportation vector.
type WeightedSeed struct {
	EntityID string  `json:"entity_id"`
	Weight   float64 `json:"weight"`
}

// WeightProfile splits the teleportation mass across the entity (W1),
// structural (W2) and thematic (W3) tiers. Weights sum to 1.
type WeightProfile struct {
	Label string  `json:"label"`
	W1    float64 `json:"w1"`
	W2    float64 `json:"w2"`
	W3    float64 `json:"w3"`
}

// Weights returns the profile as an array indexed by tier.
func (p WeightProfile) Weights() [3]float64 {
	return [3]float64{p.W1, p.W2, p.W3}
}

// ScoredEntity is a PPR result.
type ScoredEntity struct {
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score"`
}

// Provenance tags describe how a passage entered the evidence set.
const (
	ProvenanceVector   = "vector"
	ProvenanceRelated  = "related_to"
	ProvenanceReranked = "reranked"
)

// PassageEvidence is a sentence together with its sequential neighbours.
type PassageEvidence struct {
	SentenceID    string  `json:"sentence_id"`
	Text          string  `json:"text"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title,omitempty"`
	SectionID     string  `json:"section_id,omitempty"`
	SectionPath   string  `json:"section_path,omitempty"`
	Score         float64 `json:"score"`
	Provenance    string  `json:"provenance"`
}

// EvidenceBundle is the result of one retrieval run.
//
// Negative is true only when both RankedEntities and RankedPassages are empty;
// in that case no synthesis must be attempted.
type EvidenceBundle struct {
	TenantID           string            `json:"tenant_id"`
	Query              string            `json:"query"`
	RankedEntities     []ScoredEntity    `json:"ranked_entities"`
	RankedPassages     []PassageEvidence `json:"ranked_passages"`
	MatchedCommunities []Community       `json:"matched_communities"`
	Negative           bool              `json:"negative"`
}
