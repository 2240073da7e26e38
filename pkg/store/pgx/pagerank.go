package pgx

import (
	"context"
	"sort"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"
)

// Relationships are undirected; both directions are read and each node keeps
// its perNode strongest edges.
const neighboursSQL = `
SELECT source, target, strength FROM (
    SELECT n.source, n.target, n.strength,
           ROW_NUMBER() OVER (PARTITION BY n.source ORDER BY n.strength DESC, n.target) AS rn
    FROM (
        SELECT source_id AS source, target_id AS target, strength
        FROM relationships
        WHERE tenant_id = $1 AND source_id = ANY($2::text[])
        UNION ALL
        SELECT target_id, source_id, strength
        FROM relationships
        WHERE tenant_id = $1 AND target_id = ANY($2::text[])
    ) n
) ranked
WHERE rn <= $3
`

func (s *GraphDBStorage) PersonalizedPageRank(ctx context.Context, req store.PageRankRequest) ([]common.ScoredEntity, error) {
	seeds := make([]string, 0, len(req.Seeds))
	for id := range req.Seeds {
		seeds = append(seeds, id)
	}
	sort.Strings(seeds)

	g, err := store.ExpandSubgraph(ctx, seeds, req.PerSeedLimit, req.PerNeighborLimit, func(ctx context.Context, ids []string, perNode int) ([]store.Edge, error) {
		return s.neighbours(ctx, req.TenantID, ids, perNode)
	})
	if err != nil {
		return nil, err
	}
	return store.PersonalizedPageRank(g, req.Seeds, req.Damping, req.TopK), nil
}

func (s *GraphDBStorage) neighbours(ctx context.Context, tenantID string, ids []string, perNode int) ([]store.Edge, error) {
	rows, release, err := s.query(ctx, neighboursSQL, tenantID, ids, perNode)
	if err != nil {
		return nil, err
	}
	defer release()
	defer rows.Close()

	var out []store.Edge
	for rows.Next() {
		var e store.Edge
		if err := rows.Scan(&e.Source, &e.Target, &e.Weight); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
