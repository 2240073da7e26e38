package pgx

import (
	"context"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"

	"github.com/pgvector/pgvector-go"
)

const resolveEntityKeysSQL = `
SELECT canonical_key, id
FROM entities
WHERE tenant_id = $1 AND canonical_key = ANY($2::text[])
`

// Aliases shared by more than one entity are ambiguous and never resolve.
const resolveAliasKeysSQL = `
SELECT alias_key, min(entity_id)
FROM entity_aliases
WHERE tenant_id = $1 AND alias_key = ANY($2::text[])
GROUP BY alias_key
HAVING count(DISTINCT entity_id) = 1
`

const searchEntitiesSQL = `
SELECT id, 1 - (embedding <=> $2) AS score
FROM entities
WHERE tenant_id = $1
  AND embedding IS NOT NULL
  AND vector_dims(embedding) = $4
ORDER BY embedding <=> $2
LIMIT $3
`

func (s *GraphDBStorage) ResolveEntityKeys(ctx context.Context, tenantID string, keys []string) (map[string]string, error) {
	keys = store.DedupeStrings(keys)
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	exact, err := s.keyMap(ctx, resolveEntityKeysSQL, tenantID, keys)
	if err != nil {
		return nil, err
	}
	for k, id := range exact {
		out[k] = id
	}

	rest := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := out[k]; !ok {
			rest = append(rest, k)
		}
	}
	if len(rest) == 0 {
		return out, nil
	}

	aliases, err := s.keyMap(ctx, resolveAliasKeysSQL, tenantID, rest)
	if err != nil {
		return nil, err
	}
	for k, id := range aliases {
		out[k] = id
	}
	return out, nil
}

func (s *GraphDBStorage) keyMap(ctx context.Context, sql, tenantID string, keys []string) (map[string]string, error) {
	rows, release, err := s.query(ctx, sql, tenantID, keys)
	if err != nil {
		return nil, err
	}
	defer release()
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, err
		}
		out[key] = id
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) SearchEntitiesByEmbedding(ctx context.Context, tenantID string, embedding []float32, limit int) ([]store.ScoredID, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}
	return s.scoredIDs(ctx, searchEntitiesSQL, tenantID, pgvector.NewVector(embedding), limit, len(embedding))
}

func (s *GraphDBStorage) scoredIDs(ctx context.Context, sql string, args ...any) ([]store.ScoredID, error) {
	rows, release, err := s.query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer release()
	defer rows.Close()

	var out []store.ScoredID
	for rows.Next() {
		var sc store.ScoredID
		if err := rows.Scan(&sc.ID, &sc.Score); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
