package pgx

import (
	"context"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const sentenceColumns = `
    s.id, s.text, s.source_kind, s.page, s.section_path,
    COALESCE(s.section_id, ''), s.document_id, COALESCE(d.title, ''), s.chunk_id`

const searchSentencesSQL = `
SELECT * FROM (
    SELECT` + sentenceColumns + `,
        1 - (s.embedding <=> $2) AS score
    FROM sentences s
    LEFT JOIN documents d ON d.tenant_id = s.tenant_id AND d.id = s.document_id
    WHERE s.tenant_id = $1
      AND s.embedding IS NOT NULL
      AND vector_dims(s.embedding) = $4
    ORDER BY s.embedding <=> $2
    LIMIT $3
) hits
WHERE score >= $5
ORDER BY score DESC
`

// NEXT edges are stored once per pair; PREV is read by reversing them.
const sequentialNeighboursSQL = `
SELECT e.source_id AS anchor, 'next' AS dir,` + sentenceColumns + `
FROM sentence_edges e
JOIN sentences s ON s.tenant_id = e.tenant_id AND s.id = e.target_id
LEFT JOIN documents d ON d.tenant_id = s.tenant_id AND d.id = s.document_id
WHERE e.tenant_id = $1 AND e.kind = 'NEXT' AND e.source_id = ANY($2::text[])
UNION ALL
SELECT e.target_id AS anchor, 'prev' AS dir,` + sentenceColumns + `
FROM sentence_edges e
JOIN sentences s ON s.tenant_id = e.tenant_id AND s.id = e.source_id
LEFT JOIN documents d ON d.tenant_id = s.tenant_id AND d.id = s.document_id
WHERE e.tenant_id = $1 AND e.kind = 'NEXT' AND e.target_id = ANY($2::text[])
`

const relatedSentencesSQL = `
WITH related AS (
    SELECT source_id AS anchor, target_id AS other, similarity
    FROM sentence_edges
    WHERE tenant_id = $1 AND kind = 'RELATED_TO' AND source_id = ANY($2::text[])
    UNION
    SELECT target_id, source_id, similarity
    FROM sentence_edges
    WHERE tenant_id = $1 AND kind = 'RELATED_TO' AND target_id = ANY($2::text[])
), ranked AS (
    SELECT anchor, other, similarity,
           ROW_NUMBER() OVER (PARTITION BY anchor ORDER BY similarity DESC, other) AS rn
    FROM related
)
SELECT r.anchor, r.similarity,` + sentenceColumns + `
FROM ranked r
JOIN sentences s ON s.tenant_id = $1 AND s.id = r.other
LEFT JOIN documents d ON d.tenant_id = s.tenant_id AND d.id = s.document_id
WHERE r.rn <= $3
ORDER BY array_position($2::text[], r.anchor), r.rn
`

func scanSentence(row pgxv5.Row, prefix ...any) (common.Sentence, error) {
	var sen common.Sentence
	dest := append(prefix,
		&sen.ID, &sen.Text, &sen.SourceKind, &sen.Page, &sen.SectionPath,
		&sen.SectionID, &sen.DocumentID, &sen.DocumentTitle, &sen.ChunkID,
	)
	return sen, row.Scan(dest...)
}

func (s *GraphDBStorage) SearchSentences(
	ctx context.Context,
	tenantID string,
	embedding []float32,
	limit int,
	minSimilarity float64,
) ([]store.SentenceHit, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}
	rows, release, err := s.query(ctx, searchSentencesSQL, tenantID, pgvector.NewVector(embedding), limit, len(embedding), minSimilarity)
	if err != nil {
		return nil, err
	}
	defer release()
	defer rows.Close()

	var out []store.SentenceHit
	for rows.Next() {
		var hit store.SentenceHit
		var sen common.Sentence
		err := rows.Scan(
			&sen.ID, &sen.Text, &sen.SourceKind, &sen.Page, &sen.SectionPath,
			&sen.SectionID, &sen.DocumentID, &sen.DocumentTitle, &sen.ChunkID,
			&hit.Score,
		)
		if err != nil {
			return nil, err
		}
		hit.Sentence = sen
		out = append(out, hit)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) GetSequentialNeighbours(ctx context.Context, tenantID string, sentenceIDs []string) (map[string]store.SentenceNeighbours, error) {
	sentenceIDs = store.DedupeStrings(sentenceIDs)
	out := make(map[string]store.SentenceNeighbours, len(sentenceIDs))
	if len(sentenceIDs) == 0 {
		return out, nil
	}
	for _, id := range sentenceIDs {
		out[id] = store.SentenceNeighbours{}
	}

	rows, release, err := s.query(ctx, sequentialNeighboursSQL, tenantID, sentenceIDs)
	if err != nil {
		return nil, err
	}
	defer release()
	defer rows.Close()

	for rows.Next() {
		var anchor, dir string
		sen, err := scanSentence(rows, &anchor, &dir)
		if err != nil {
			return nil, err
		}
		n := out[anchor]
		if dir == "next" {
			n.Next = &sen
		} else {
			n.Prev = &sen
		}
		out[anchor] = n
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) GetRelatedSentences(ctx context.Context, tenantID string, sentenceIDs []string, perSentence int) ([]store.RelatedSentence, error) {
	sentenceIDs = store.DedupeStrings(sentenceIDs)
	if len(sentenceIDs) == 0 || perSentence <= 0 {
		return nil, nil
	}
	rows, release, err := s.query(ctx, relatedSentencesSQL, tenantID, sentenceIDs, perSentence)
	if err != nil {
		return nil, err
	}
	defer release()
	defer rows.Close()

	var out []store.RelatedSentence
	for rows.Next() {
		var rel store.RelatedSentence
		sen, err := scanSentence(rows, &rel.FromID, &rel.Similarity)
		if err != nil {
			return nil, err
		}
		rel.Sentence = sen
		out = append(out, rel)
	}
	return out, rows.Err()
}
