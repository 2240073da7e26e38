// Package memory is an in-process store.GraphBackend for tests and local
// development. It keeps every tenant fully isolated in its own graph.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/canonical"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"
)

type tenantGraph struct {
	entities  map[string]common.Entity
	entityKey map[string]string
	aliasKey  map[string][]string
	edges     map[string]map[string]float64

	sections map[string]common.Section
	hubs     map[string][]string

	sentences map[string]common.Sentence
	order     []string
	next      map[string]string
	prev      map[string]string
	related   map[string][]store.RelatedSentence

	communities []common.Community
}

func newTenantGraph() *tenantGraph {
	return &tenantGraph{
		entities:  make(map[string]common.Entity),
		entityKey: make(map[string]string),
		aliasKey:  make(map[string][]string),
		edges:     make(map[string]map[string]float64),
		sections:  make(map[string]common.Section),
		hubs:      make(map[string][]string),
		sentences: make(map[string]common.Sentence),
		next:      make(map[string]string),
		prev:      make(map[string]string),
		related:   make(map[string][]store.RelatedSentence),
	}
}

// Store implements store.GraphBackend in memory.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]*tenantGraph
}

var _ store.GraphBackend = (*Store)(nil)

func New() *Store {
	return &Store{tenants: make(map[string]*tenantGraph)}
}

func (s *Store) Close() {}

func (s *Store) tenant(tenantID string) *tenantGraph {
	t, ok := s.tenants[tenantID]
	if !ok {
		t = newTenantGraph()
		s.tenants[tenantID] = t
	}
	return t
}

func (s *Store) read(tenantID string) *tenantGraph {
	if t, ok := s.tenants[tenantID]; ok {
		return t
	}
	return newTenantGraph()
}

// AddEntity stores e and indexes its name and aliases. An empty ID is derived
// from the tenant and the canonical name. Returns the entity id.
func (s *Store) AddEntity(tenantID string, e common.Entity) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenant(tenantID)
	key := canonical.Key(e.Name, canonical.LocaleAuto)
	if e.ID == "" {
		e.ID = canonical.StableID(tenantID, key)
	}
	t.entities[e.ID] = e
	t.entityKey[key] = e.ID

	for _, k := range canonical.AliasKeys(e.Name, e.Aliases) {
		if k == key {
			continue
		}
		if !slices.Contains(t.aliasKey[k], e.ID) {
			t.aliasKey[k] = append(t.aliasKey[k], e.ID)
		}
	}
	return e.ID
}

// AddRelationship links two entities with an undirected weighted edge.
func (s *Store) AddRelationship(tenantID, a, b string, strength float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenant(tenantID)
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if t.edges[pair[0]] == nil {
			t.edges[pair[0]] = make(map[string]float64)
		}
		if strength > t.edges[pair[0]][pair[1]] {
			t.edges[pair[0]][pair[1]] = strength
		}
	}
}

// AddSection stores a section with its hub entities, most mentioned first.
func (s *Store) AddSection(tenantID string, sec common.Section, hubEntityIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenant(tenantID)
	t.sections[sec.ID] = sec
	t.hubs[sec.ID] = slices.Clone(hubEntityIDs)
}

// AddSentences stores sentences in reading order. Consecutive sentences of the
// same chunk are linked with NEXT/PREV edges.
func (s *Store) AddSentences(tenantID string, sentences ...common.Sentence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenant(tenantID)
	var last *common.Sentence
	if n := len(t.order); n > 0 {
		prev := t.sentences[t.order[n-1]]
		last = &prev
	}
	for _, sen := range sentences {
		t.sentences[sen.ID] = sen
		t.order = append(t.order, sen.ID)
		if last != nil && last.ChunkID != "" && last.ChunkID == sen.ChunkID {
			t.next[last.ID] = sen.ID
			t.prev[sen.ID] = last.ID
		}
		cur := sen
		last = &cur
	}
}

// AddRelatedEdge adds a symmetric RELATED_TO edge between two sentences.
func (s *Store) AddRelatedEdge(tenantID, a, b string, similarity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenant(tenantID)
	if sa, ok := t.sentences[a]; ok {
		t.related[b] = append(t.related[b], store.RelatedSentence{FromID: b, Sentence: sa, Similarity: similarity})
	}
	if sb, ok := t.sentences[b]; ok {
		t.related[a] = append(t.related[a], store.RelatedSentence{FromID: a, Sentence: sb, Similarity: similarity})
	}
}

// PutCommunity inserts or replaces a community by id.
func (s *Store) PutCommunity(tenantID string, c common.Community) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenant(tenantID)
	for i := range t.communities {
		if t.communities[i].ID == c.ID {
			t.communities[i] = c
			return
		}
	}
	t.communities = append(t.communities, c)
}

// Community returns a stored community by id.
func (s *Store) Community(tenantID, id string) (common.Community, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.read(tenantID).communities {
		if c.ID == id {
			return cloneCommunity(c), true
		}
	}
	return common.Community{}, false
}

func (s *Store) ResolveEntityKeys(_ context.Context, tenantID string, keys []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.read(tenantID)
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if id, ok := t.entityKey[k]; ok {
			out[k] = id
			continue
		}
		// ambiguous aliases resolve to nothing
		if ids := t.aliasKey[k]; len(ids) == 1 {
			out[k] = ids[0]
		}
	}
	return out, nil
}

func (s *Store) SearchEntitiesByEmbedding(_ context.Context, tenantID string, embedding []float32, limit int) ([]store.ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.read(tenantID)
	out := make([]store.ScoredID, 0, len(t.entities))
	for id, e := range t.entities {
		if len(e.Embedding) == 0 {
			continue
		}
		out = append(out, store.ScoredID{ID: id, Score: store.Cosine(embedding, e.Embedding)})
	}
	return topScored(out, limit, -1), nil
}

func (s *Store) SearchSectionsByStructure(_ context.Context, tenantID string, embedding []float32, limit int, minSimilarity float64) ([]store.ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.read(tenantID)
	out := make([]store.ScoredID, 0, len(t.sections))
	for id, sec := range t.sections {
		if len(sec.StructuralEmbedding) == 0 {
			continue
		}
		out = append(out, store.ScoredID{ID: id, Score: store.Cosine(embedding, sec.StructuralEmbedding)})
	}
	return topScored(out, limit, minSimilarity), nil
}

func (s *Store) ListSectionHeadings(_ context.Context, tenantID string) ([]common.SectionHeading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.read(tenantID)
	out := make([]common.SectionHeading, 0, len(t.sections))
	for _, sec := range t.sections {
		out = append(out, common.SectionHeading{ID: sec.ID, Path: sec.PathKey, Title: sec.Title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) GetSectionHubEntities(_ context.Context, tenantID string, sectionIDs []string, perSection int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.read(tenantID)
	var out []string
	for _, id := range sectionIDs {
		hubs := t.hubs[id]
		if perSection > 0 && len(hubs) > perSection {
			hubs = hubs[:perSection]
		}
		out = append(out, hubs...)
	}
	return out, nil
}

func (s *Store) SearchSentences(_ context.Context, tenantID string, embedding []float32, limit int, minSimilarity float64) ([]store.SentenceHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.read(tenantID)
	scored := make([]store.ScoredID, 0, len(t.sentences))
	for id, sen := range t.sentences {
		if len(sen.Embedding) == 0 {
			continue
		}
		scored = append(scored, store.ScoredID{ID: id, Score: store.Cosine(embedding, sen.Embedding)})
	}
	scored = topScored(scored, limit, minSimilarity)

	out := make([]store.SentenceHit, 0, len(scored))
	for _, sc := range scored {
		out = append(out, store.SentenceHit{Sentence: t.sentences[sc.ID], Score: sc.Score})
	}
	return out, nil
}

func (s *Store) GetSequentialNeighbours(_ context.Context, tenantID string, sentenceIDs []string) (map[string]store.SentenceNeighbours, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.read(tenantID)
	out := make(map[string]store.SentenceNeighbours, len(sentenceIDs))
	for _, id := range sentenceIDs {
		var n store.SentenceNeighbours
		if p, ok := t.prev[id]; ok {
			sen := t.sentences[p]
			n.Prev = &sen
		}
		if nx, ok := t.next[id]; ok {
			sen := t.sentences[nx]
			n.Next = &sen
		}
		out[id] = n
	}
	return out, nil
}

func (s *Store) GetRelatedSentences(_ context.Context, tenantID string, sentenceIDs []string, perSentence int) ([]store.RelatedSentence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.read(tenantID)
	var out []store.RelatedSentence
	for _, id := range sentenceIDs {
		rel := slices.Clone(t.related[id])
		sort.SliceStable(rel, func(i, j int) bool { return rel[i].Similarity > rel[j].Similarity })
		if perSentence > 0 && len(rel) > perSentence {
			rel = rel[:perSentence]
		}
		out = append(out, rel...)
	}
	return out, nil
}

func (s *Store) LoadCommunities(_ context.Context, tenantID string) ([]common.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.read(tenantID)
	out := make([]common.Community, 0, len(t.communities))
	for _, c := range t.communities {
		out = append(out, cloneCommunity(c))
	}
	return out, nil
}

func (s *Store) LoadCommunitySources(_ context.Context, tenantID string) ([]store.CommunitySource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.read(tenantID)
	out := make([]store.CommunitySource, 0, len(t.communities))
	for _, c := range t.communities {
		out = append(out, store.CommunitySource{
			ID:              c.ID,
			Title:           c.Title,
			Summary:         c.Summary,
			MemberEntityIDs: slices.Clone(c.MemberEntityIDs),
			MemberNames:     slices.Clone(c.MemberNames),
		})
	}
	return out, nil
}

func (s *Store) UpdateCommunityEmbeddings(_ context.Context, tenantID string, updates []store.CommunityEmbeddingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tenant(tenantID)
	byID := make(map[string]store.CommunityEmbeddingUpdate, len(updates))
	for _, u := range updates {
		byID[u.CommunityID] = u
	}
	for i := range t.communities {
		if u, ok := byID[t.communities[i].ID]; ok {
			t.communities[i].Embedding = slices.Clone(u.Embedding)
			t.communities[i].EmbeddingTextHash = u.TextHash
		}
	}
	return nil
}

func (s *Store) PersonalizedPageRank(ctx context.Context, req store.PageRankRequest) ([]common.ScoredEntity, error) {
	seeds := make([]string, 0, len(req.Seeds))
	for id := range req.Seeds {
		seeds = append(seeds, id)
	}
	sort.Strings(seeds)

	g, err := store.ExpandSubgraph(ctx, seeds, req.PerSeedLimit, req.PerNeighborLimit, func(_ context.Context, ids []string, perNode int) ([]store.Edge, error) {
		return s.neighbours(req.TenantID, ids, perNode), nil
	})
	if err != nil {
		return nil, err
	}
	return store.PersonalizedPageRank(g, req.Seeds, req.Damping, req.TopK), nil
}

func (s *Store) neighbours(tenantID string, ids []string, perNode int) []store.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.read(tenantID)
	var out []store.Edge
	for _, id := range ids {
		edges := make([]store.Edge, 0, len(t.edges[id]))
		for nb, w := range t.edges[id] {
			edges = append(edges, store.Edge{Source: id, Target: nb, Weight: w})
		}
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].Weight != edges[j].Weight {
				return edges[i].Weight > edges[j].Weight
			}
			return edges[i].Target < edges[j].Target
		})
		if perNode > 0 && len(edges) > perNode {
			edges = edges[:perNode]
		}
		out = append(out, edges...)
	}
	return out
}

func topScored(in []store.ScoredID, limit int, minScore float64) []store.ScoredID {
	out := in[:0]
	for _, s := range in {
		if s.Score >= minScore {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneCommunity(c common.Community) common.Community {
	c.Embedding = slices.Clone(c.Embedding)
	c.MemberEntityIDs = slices.Clone(c.MemberEntityIDs)
	c.MemberNames = slices.Clone(c.MemberNames)
	return c
}
