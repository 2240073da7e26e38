// Package neo4j implements store.GraphBackend on a Neo4j database.
//
// Expected model, every node carrying a tenant_id property:
//
//	(:Entity {id, canonical_key, alias_keys, embedding})-[:RELATED {strength}]-(:Entity)
//	(:Section {id, path_key, title, structural_embedding})-[:HUB {mention_count}]->(:Entity)
//	(:Sentence {id, text, source_kind, ...})-[:NEXT]->(:Sentence)
//	(:Sentence)-[:RELATED_TO {similarity}]-(:Sentence)
//	(:Community {id, title, summary, rank, level, embedding, embedding_text_hash})-[:HAS_MEMBER]->(:Entity)
package neo4j

import (
	"context"
	"fmt"
	"sort"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/sync/semaphore"
)

// Vector indexes are global, so searches over-fetch and filter by tenant.
const defaultOverFetch = 4

type Repository struct {
	driver    neo4j.DriverWithContext
	database  string
	overFetch int
	sem       *semaphore.Weighted

	entityIndex   string
	sectionIndex  string
	sentenceIndex string
}

var _ store.GraphBackend = (*Repository)(nil)

type Params struct {
	URI      string
	Username string
	Password string
	Database string

	MaxParallel int
	OverFetch   int

	EntityIndex   string
	SectionIndex  string
	SentenceIndex string
}

func New(ctx context.Context, p Params) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(p.URI, neo4j.BasicAuth(p.Username, p.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	r := &Repository{
		driver:        driver,
		database:      p.Database,
		overFetch:     p.OverFetch,
		entityIndex:   orDefault(p.EntityIndex, "entity_embedding"),
		sectionIndex:  orDefault(p.SectionIndex, "section_structural_embedding"),
		sentenceIndex: orDefault(p.SentenceIndex, "sentence_embedding"),
	}
	if r.overFetch <= 0 {
		r.overFetch = defaultOverFetch
	}
	maxParallel := p.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 8
	}
	r.sem = semaphore.NewWeighted(int64(maxParallel))
	return r, nil
}

func (r *Repository) Close() {
	_ = r.driver.Close(context.Background())
}

// read runs query in a read session and hands every record to fn.
func (r *Repository) read(ctx context.Context, query string, params map[string]any, fn func(*neo4j.Record) error) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: r.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return err
	}
	for result.Next(ctx) {
		if err := fn(result.Record()); err != nil {
			return err
		}
	}
	return result.Err()
}

func (r *Repository) write(ctx context.Context, query string, params map[string]any) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: r.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

const resolveEntityKeysQuery = `
UNWIND $keys AS key
OPTIONAL MATCH (e:Entity {tenant_id: $tenant, canonical_key: key})
WITH key, collect(e.id) AS exact
OPTIONAL MATCH (a:Entity {tenant_id: $tenant}) WHERE key IN a.alias_keys
WITH key, exact, collect(DISTINCT a.id) AS aliased
RETURN key, exact, aliased
`

func (r *Repository) ResolveEntityKeys(ctx context.Context, tenantID string, keys []string) (map[string]string, error) {
	keys = store.DedupeStrings(keys)
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	err := r.read(ctx, resolveEntityKeysQuery, map[string]any{"tenant": tenantID, "keys": keys}, func(rec *neo4j.Record) error {
		key := getStringFromRecord(rec, "key")
		if exact := getStringsFromRecord(rec, "exact"); len(exact) > 0 {
			out[key] = exact[0]
			return nil
		}
		// ambiguous aliases resolve to nothing
		if aliased := getStringsFromRecord(rec, "aliased"); len(aliased) == 1 {
			out[key] = aliased[0]
		}
		return nil
	})
	return out, err
}

const vectorSearchQuery = `
CALL db.index.vector.queryNodes($index, $fetch, $embedding) YIELD node, score
WHERE node.tenant_id = $tenant
RETURN node.id AS id, score
ORDER BY score DESC
LIMIT $limit
`

func (r *Repository) vectorSearch(ctx context.Context, index, tenantID string, embedding []float32, limit int, minSimilarity float64) ([]store.ScoredID, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}
	params := map[string]any{
		"index":     index,
		"fetch":     limit * r.overFetch,
		"embedding": toFloat64s(embedding),
		"tenant":    tenantID,
		"limit":     limit,
	}
	var out []store.ScoredID
	err := r.read(ctx, vectorSearchQuery, params, func(rec *neo4j.Record) error {
		score := cosineFromIndexScore(getFloatFromRecord(rec, "score"))
		if score < minSimilarity {
			return nil
		}
		out = append(out, store.ScoredID{ID: getStringFromRecord(rec, "id"), Score: score})
		return nil
	})
	return out, err
}

func (r *Repository) SearchEntitiesByEmbedding(ctx context.Context, tenantID string, embedding []float32, limit int) ([]store.ScoredID, error) {
	return r.vectorSearch(ctx, r.entityIndex, tenantID, embedding, limit, -1)
}

func (r *Repository) SearchSectionsByStructure(ctx context.Context, tenantID string, embedding []float32, limit int, minSimilarity float64) ([]store.ScoredID, error) {
	return r.vectorSearch(ctx, r.sectionIndex, tenantID, embedding, limit, minSimilarity)
}

const listSectionHeadingsQuery = `
MATCH (s:Section {tenant_id: $tenant})
RETURN s.id AS id, s.path_key AS path, s.title AS title
ORDER BY path, id
`

func (r *Repository) ListSectionHeadings(ctx context.Context, tenantID string) ([]common.SectionHeading, error) {
	var out []common.SectionHeading
	err := r.read(ctx, listSectionHeadingsQuery, map[string]any{"tenant": tenantID}, func(rec *neo4j.Record) error {
		out = append(out, common.SectionHeading{
			ID:    getStringFromRecord(rec, "id"),
			Path:  getStringFromRecord(rec, "path"),
			Title: getStringFromRecord(rec, "title"),
		})
		return nil
	})
	return out, err
}

const sectionHubsQuery = `
UNWIND range(0, size($sections) - 1) AS pos
MATCH (s:Section {tenant_id: $tenant, id: $sections[pos]})-[h:HUB]->(e:Entity {tenant_id: $tenant})
WITH pos, e.id AS id, h.mention_count AS mentions
ORDER BY pos, mentions DESC, id
WITH pos, collect(id)[0..$per] AS hubs
UNWIND hubs AS id
RETURN id
`

func (r *Repository) GetSectionHubEntities(ctx context.Context, tenantID string, sectionIDs []string, perSection int) ([]string, error) {
	if len(sectionIDs) == 0 || perSection <= 0 {
		return nil, nil
	}
	var out []string
	params := map[string]any{"tenant": tenantID, "sections": sectionIDs, "per": perSection}
	err := r.read(ctx, sectionHubsQuery, params, func(rec *neo4j.Record) error {
		out = append(out, getStringFromRecord(rec, "id"))
		return nil
	})
	return out, err
}

const sentenceProjection = `{
    id: %[1]s.id, text: %[1]s.text, source_kind: %[1]s.source_kind, page: %[1]s.page,
    section_path: %[1]s.section_path, section_id: %[1]s.section_id,
    document_id: %[1]s.document_id, document_title: %[1]s.document_title, chunk_id: %[1]s.chunk_id
}`

var searchSentencesQuery = `
CALL db.index.vector.queryNodes($index, $fetch, $embedding) YIELD node, score
WHERE node.tenant_id = $tenant
RETURN ` + fmt.Sprintf(sentenceProjection, "node") + ` AS sentence, score
ORDER BY score DESC
LIMIT $limit
`

func (r *Repository) SearchSentences(ctx context.Context, tenantID string, embedding []float32, limit int, minSimilarity float64) ([]store.SentenceHit, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}
	params := map[string]any{
		"index":     r.sentenceIndex,
		"fetch":     limit * r.overFetch,
		"embedding": toFloat64s(embedding),
		"tenant":    tenantID,
		"limit":     limit,
	}
	var out []store.SentenceHit
	err := r.read(ctx, searchSentencesQuery, params, func(rec *neo4j.Record) error {
		score := cosineFromIndexScore(getFloatFromRecord(rec, "score"))
		if score < minSimilarity {
			return nil
		}
		out = append(out, store.SentenceHit{Sentence: getSentenceFromRecord(rec, "sentence"), Score: score})
		return nil
	})
	return out, err
}

var sequentialNeighboursQuery = `
UNWIND $ids AS sid
MATCH (s:Sentence {tenant_id: $tenant, id: sid})
OPTIONAL MATCH (p:Sentence {tenant_id: $tenant})-[:NEXT]->(s)
OPTIONAL MATCH (s)-[:NEXT]->(n:Sentence {tenant_id: $tenant})
RETURN sid,
    CASE WHEN p IS NULL THEN null ELSE ` + fmt.Sprintf(sentenceProjection, "p") + ` END AS prev,
    CASE WHEN n IS NULL THEN null ELSE ` + fmt.Sprintf(sentenceProjection, "n") + ` END AS next
`

func (r *Repository) GetSequentialNeighbours(ctx context.Context, tenantID string, sentenceIDs []string) (map[string]store.SentenceNeighbours, error) {
	sentenceIDs = store.DedupeStrings(sentenceIDs)
	out := make(map[string]store.SentenceNeighbours, len(sentenceIDs))
	if len(sentenceIDs) == 0 {
		return out, nil
	}
	for _, id := range sentenceIDs {
		out[id] = store.SentenceNeighbours{}
	}
	err := r.read(ctx, sequentialNeighboursQuery, map[string]any{"tenant": tenantID, "ids": sentenceIDs}, func(rec *neo4j.Record) error {
		var n store.SentenceNeighbours
		if v, ok := rec.Get("prev"); ok && v != nil {
			sen := getSentenceFromRecord(rec, "prev")
			n.Prev = &sen
		}
		if v, ok := rec.Get("next"); ok && v != nil {
			sen := getSentenceFromRecord(rec, "next")
			n.Next = &sen
		}
		out[getStringFromRecord(rec, "sid")] = n
		return nil
	})
	return out, err
}

var relatedSentencesQuery = `
UNWIND range(0, size($ids) - 1) AS pos
MATCH (s:Sentence {tenant_id: $tenant, id: $ids[pos]})-[r:RELATED_TO]-(o:Sentence {tenant_id: $tenant})
WITH pos, s.id AS anchor, o, r.similarity AS similarity
ORDER BY pos, similarity DESC, o.id
WITH pos, anchor, collect({similarity: similarity, sentence: ` + fmt.Sprintf(sentenceProjection, "o") + `})[0..$per] AS related
UNWIND related AS rel
RETURN anchor, rel.similarity AS similarity, rel.sentence AS sentence
`

func (r *Repository) GetRelatedSentences(ctx context.Context, tenantID string, sentenceIDs []string, perSentence int) ([]store.RelatedSentence, error) {
	sentenceIDs = store.DedupeStrings(sentenceIDs)
	if len(sentenceIDs) == 0 || perSentence <= 0 {
		return nil, nil
	}
	var out []store.RelatedSentence
	params := map[string]any{"tenant": tenantID, "ids": sentenceIDs, "per": perSentence}
	err := r.read(ctx, relatedSentencesQuery, params, func(rec *neo4j.Record) error {
		out = append(out, store.RelatedSentence{
			FromID:     getStringFromRecord(rec, "anchor"),
			Similarity: getFloatFromRecord(rec, "similarity"),
			Sentence:   getSentenceFromRecord(rec, "sentence"),
		})
		return nil
	})
	return out, err
}

const loadCommunitiesQuery = `
MATCH (c:Community {tenant_id: $tenant})
OPTIONAL MATCH (c)-[:HAS_MEMBER]->(e:Entity {tenant_id: $tenant})
WITH c, e ORDER BY e.name, e.id
RETURN c.id AS id, c.title AS title, c.summary AS summary, c.rank AS rank, c.level AS level,
       c.embedding AS embedding, c.embedding_text_hash AS hash,
       [x IN collect(e) | x.id] AS member_ids, [x IN collect(e) | x.name] AS member_names
ORDER BY rank DESC, id
`

func (r *Repository) LoadCommunities(ctx context.Context, tenantID string) ([]common.Community, error) {
	var out []common.Community
	err := r.read(ctx, loadCommunitiesQuery, map[string]any{"tenant": tenantID}, func(rec *neo4j.Record) error {
		out = append(out, common.Community{
			ID:                getStringFromRecord(rec, "id"),
			Title:             getStringFromRecord(rec, "title"),
			Summary:           getStringFromRecord(rec, "summary"),
			Rank:              getFloatFromRecord(rec, "rank"),
			Level:             getIntFromRecord(rec, "level"),
			Embedding:         getVectorFromRecord(rec, "embedding"),
			EmbeddingTextHash: getStringFromRecord(rec, "hash"),
			MemberEntityIDs:   getStringsFromRecord(rec, "member_ids"),
			MemberNames:       getStringsFromRecord(rec, "member_names"),
		})
		return nil
	})
	return out, err
}

const loadCommunitySourcesQuery = `
MATCH (c:Community {tenant_id: $tenant})
OPTIONAL MATCH (c)-[:HAS_MEMBER]->(e:Entity {tenant_id: $tenant})
WITH c, e ORDER BY e.name, e.id
RETURN c.id AS id, c.title AS title, c.summary AS summary, c.rank AS rank,
       [x IN collect(e) | x.id] AS member_ids, [x IN collect(e) | x.name] AS member_names
ORDER BY rank DESC, id
`

func (r *Repository) LoadCommunitySources(ctx context.Context, tenantID string) ([]store.CommunitySource, error) {
	var out []store.CommunitySource
	err := r.read(ctx, loadCommunitySourcesQuery, map[string]any{"tenant": tenantID}, func(rec *neo4j.Record) error {
		out = append(out, store.CommunitySource{
			ID:              getStringFromRecord(rec, "id"),
			Title:           getStringFromRecord(rec, "title"),
			Summary:         getStringFromRecord(rec, "summary"),
			MemberEntityIDs: getStringsFromRecord(rec, "member_ids"),
			MemberNames:     getStringsFromRecord(rec, "member_names"),
		})
		return nil
	})
	return out, err
}

const updateCommunityEmbeddingsQuery = `
UNWIND $updates AS u
MATCH (c:Community {tenant_id: $tenant, id: u.id})
SET c.embedding = u.embedding, c.embedding_text_hash = u.hash
`

func (r *Repository) UpdateCommunityEmbeddings(ctx context.Context, tenantID string, updates []store.CommunityEmbeddingUpdate) error {
	return store.ChunkRange(len(updates), 100, func(start, end int) error {
		rows := make([]map[string]any, 0, end-start)
		for _, u := range updates[start:end] {
			rows = append(rows, map[string]any{
				"id":        u.CommunityID,
				"embedding": toFloat64s(u.Embedding),
				"hash":      u.TextHash,
			})
		}
		return r.write(ctx, updateCommunityEmbeddingsQuery, map[string]any{"tenant": tenantID, "updates": rows})
	})
}

const neighboursQuery = `
UNWIND $ids AS nid
MATCH (n:Entity {tenant_id: $tenant, id: nid})-[r:RELATED]-(m:Entity {tenant_id: $tenant})
WITH nid, m.id AS target, max(r.strength) AS strength
ORDER BY nid, strength DESC, target
WITH nid, collect({target: target, strength: strength})[0..$per] AS edges
UNWIND edges AS e
RETURN nid AS source, e.target AS target, e.strength AS strength
`

// PersonalizedPageRank expands the bounded two-hop neighbourhood of the seeds
// with Cypher and ranks it in process, so no graph plugin is required.
func (r *Repository) PersonalizedPageRank(ctx context.Context, req store.PageRankRequest) ([]common.ScoredEntity, error) {
	seeds := make([]string, 0, len(req.Seeds))
	for id := range req.Seeds {
		seeds = append(seeds, id)
	}
	sort.Strings(seeds)

	g, err := store.ExpandSubgraph(ctx, seeds, req.PerSeedLimit, req.PerNeighborLimit, func(ctx context.Context, ids []string, perNode int) ([]store.Edge, error) {
		var out []store.Edge
		params := map[string]any{"tenant": req.TenantID, "ids": ids, "per": perNode}
		err := r.read(ctx, neighboursQuery, params, func(rec *neo4j.Record) error {
			out = append(out, store.Edge{
				Source: getStringFromRecord(rec, "source"),
				Target: getStringFromRecord(rec, "target"),
				Weight: getFloatFromRecord(rec, "strength"),
			})
			return nil
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}
	return store.PersonalizedPageRank(g, req.Seeds, req.Damping, req.TopK), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
