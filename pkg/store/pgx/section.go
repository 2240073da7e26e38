package pgx

import (
	"context"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"

	"github.com/pgvector/pgvector-go"
)

const searchSectionsSQL = `
SELECT id, score FROM (
    SELECT id, 1 - (structural_embedding <=> $2) AS score
    FROM sections
    WHERE tenant_id = $1
      AND structural_embedding IS NOT NULL
      AND vector_dims(structural_embedding) = $4
    ORDER BY structural_embedding <=> $2
    LIMIT $3
) s
WHERE score >= $5
ORDER BY score DESC, id
`

const listSectionHeadingsSQL = `
SELECT id, path_key, title
FROM sections
WHERE tenant_id = $1
ORDER BY path_key, id
`

const sectionHubsSQL = `
SELECT entity_id FROM (
    SELECT section_id, entity_id,
           ROW_NUMBER() OVER (PARTITION BY section_id ORDER BY mention_count DESC, entity_id) AS rn
    FROM section_hubs
    WHERE tenant_id = $1 AND section_id = ANY($2::text[])
) h
WHERE rn <= $3
ORDER BY array_position($2::text[], section_id), rn
`

func (s *GraphDBStorage) SearchSectionsByStructure(
	ctx context.Context,
	tenantID string,
	embedding []float32,
	limit int,
	minSimilarity float64,
) ([]store.ScoredID, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}
	return s.scoredIDs(ctx, searchSectionsSQL, tenantID, pgvector.NewVector(embedding), limit, len(embedding), minSimilarity)
}

func (s *GraphDBStorage) ListSectionHeadings(ctx context.Context, tenantID string) ([]common.SectionHeading, error) {
	rows, release, err := s.query(ctx, listSectionHeadingsSQL, tenantID)
	if err != nil {
		return nil, err
	}
	defer release()
	defer rows.Close()

	var out []common.SectionHeading
	for rows.Next() {
		var h common.SectionHeading
		if err := rows.Scan(&h.ID, &h.Path, &h.Title); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) GetSectionHubEntities(ctx context.Context, tenantID string, sectionIDs []string, perSection int) ([]string, error) {
	if len(sectionIDs) == 0 || perSection <= 0 {
		return nil, nil
	}
	rows, release, err := s.query(ctx, sectionHubsSQL, tenantID, sectionIDs, perSection)
	if err != nil {
		return nil, err
	}
	defer release()
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
