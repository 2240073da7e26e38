package pgx

import (
	"context"
	"fmt"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const loadCommunitiesSQL = `
SELECT c.id, c.title, c.summary, c.rank, c.level, c.embedding, c.embedding_text_hash,
       COALESCE(array_agg(m.entity_id ORDER BY e.name, m.entity_id) FILTER (WHERE m.entity_id IS NOT NULL), '{}'),
       COALESCE(array_agg(e.name ORDER BY e.name, m.entity_id) FILTER (WHERE e.name IS NOT NULL), '{}')
FROM communities c
LEFT JOIN community_members m ON m.tenant_id = c.tenant_id AND m.community_id = c.id
LEFT JOIN entities e ON e.tenant_id = c.tenant_id AND e.id = m.entity_id
WHERE c.tenant_id = $1
GROUP BY c.id
ORDER BY c.rank DESC, c.id
`

const loadCommunitySourcesSQL = `
SELECT c.id, c.title, c.summary,
       COALESCE(array_agg(m.entity_id ORDER BY e.name, m.entity_id) FILTER (WHERE m.entity_id IS NOT NULL), '{}'),
       COALESCE(array_agg(e.name ORDER BY e.name, m.entity_id) FILTER (WHERE e.name IS NOT NULL), '{}')
FROM communities c
LEFT JOIN community_members m ON m.tenant_id = c.tenant_id AND m.community_id = c.id
LEFT JOIN entities e ON e.tenant_id = c.tenant_id AND e.id = m.entity_id
WHERE c.tenant_id = $1
GROUP BY c.id
ORDER BY c.rank DESC, c.id
`

// Only embedding and embedding_text_hash are ever written; summaries belong
// to the offline community job.
const updateCommunityEmbeddingSQL = `
UPDATE communities
SET embedding = $3, embedding_text_hash = $4
WHERE tenant_id = $1 AND id = $2
`

func (s *GraphDBStorage) LoadCommunities(ctx context.Context, tenantID string) ([]common.Community, error) {
	rows, release, err := s.query(ctx, loadCommunitiesSQL, tenantID)
	if err != nil {
		return nil, err
	}
	defer release()
	defer rows.Close()

	var out []common.Community
	for rows.Next() {
		var c common.Community
		var emb *pgvector.Vector
		err := rows.Scan(
			&c.ID, &c.Title, &c.Summary, &c.Rank, &c.Level, &emb, &c.EmbeddingTextHash,
			&c.MemberEntityIDs, &c.MemberNames,
		)
		if err != nil {
			return nil, err
		}
		if emb != nil {
			c.Embedding = emb.Slice()
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) LoadCommunitySources(ctx context.Context, tenantID string) ([]store.CommunitySource, error) {
	rows, release, err := s.query(ctx, loadCommunitySourcesSQL, tenantID)
	if err != nil {
		return nil, err
	}
	defer release()
	defer rows.Close()

	var out []store.CommunitySource
	for rows.Next() {
		var src store.CommunitySource
		if err := rows.Scan(&src.ID, &src.Title, &src.Summary, &src.MemberEntityIDs, &src.MemberNames); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) UpdateCommunityEmbeddings(ctx context.Context, tenantID string, updates []store.CommunityEmbeddingUpdate) error {
	return store.ChunkRange(len(updates), s.batchSize, func(start, end int) error {
		release, err := s.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()

		batch := &pgxv5.Batch{}
		for _, u := range updates[start:end] {
			batch.Queue(updateCommunityEmbeddingSQL, tenantID, u.CommunityID, pgvector.NewVector(u.Embedding), u.TextHash)
		}
		br := s.conn.SendBatch(ctx, batch)
		for i := start; i < end; i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("update community %s: %w", updates[i].CommunityID, err)
			}
		}
		return br.Close()
	})
}
