package store

import (
	"context"
	"math"
	"sort"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
)

const (
	pageRankMaxIterations = 100
	pageRankTolerance     = 1e-9
)

// Edge is a weighted entity relationship as returned by a neighbour query.
// Source is the node whose neighbourhood was requested.
type Edge struct {
	Source string
	Target string
	Weight float64
}

// NeighbourFunc returns at most perNode strongest edges for every node in nodeIDs.
type NeighbourFunc func(ctx context.Context, nodeIDs []string, perNode int) ([]Edge, error)

// Subgraph is an undirected weighted adjacency map.
type Subgraph struct {
	adj map[string]map[string]float64
}

func NewSubgraph() *Subgraph {
	return &Subgraph{adj: make(map[string]map[string]float64)}
}

func (g *Subgraph) AddNode(id string) {
	if _, ok := g.adj[id]; !ok {
		g.adj[id] = make(map[string]float64)
	}
}

// AddEdge links a and b, keeping the larger weight when the edge already exists.
// Self loops and non-positive weights are ignored.
func (g *Subgraph) AddEdge(a, b string, w float64) {
	g.AddNode(a)
	g.AddNode(b)
	if a == b || w <= 0 {
		return
	}
	if w > g.adj[a][b] {
		g.adj[a][b] = w
		g.adj[b][a] = w
	}
}

func (g *Subgraph) Len() int {
	return len(g.adj)
}

// ExpandSubgraph builds the two-hop neighbourhood of seeds. Each seed
// contributes at most perSeed edges, each first-hop node at most perNeighbor.
func ExpandSubgraph(
	ctx context.Context,
	seeds []string,
	perSeed int,
	perNeighbor int,
	fetch NeighbourFunc,
) (*Subgraph, error) {
	g := NewSubgraph()
	seeds = DedupeStrings(seeds)
	for _, s := range seeds {
		g.AddNode(s)
	}
	if len(seeds) == 0 || perSeed <= 0 {
		return g, nil
	}

	firstHop, err := fetch(ctx, seeds, perSeed)
	if err != nil {
		return nil, err
	}

	seedSet := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		seedSet[s] = struct{}{}
	}
	frontier := make([]string, 0, len(firstHop))
	for _, e := range firstHop {
		g.AddEdge(e.Source, e.Target, e.Weight)
		if _, ok := seedSet[e.Target]; !ok {
			frontier = append(frontier, e.Target)
		}
	}
	frontier = DedupeStrings(frontier)
	if len(frontier) == 0 || perNeighbor <= 0 {
		return g, nil
	}

	secondHop, err := fetch(ctx, frontier, perNeighbor)
	if err != nil {
		return nil, err
	}
	for _, e := range secondHop {
		g.AddEdge(e.Source, e.Target, e.Weight)
	}
	return g, nil
}

// PersonalizedPageRank runs weighted power iteration over g.
//
// seeds is the teleportation distribution; seeds absent from g are added as
// isolated nodes. Dangling mass returns to the seeds. The result holds at
// most topK entities with positive score, best first.
func PersonalizedPageRank(g *Subgraph, seeds map[string]float64, damping float64, topK int) []common.ScoredEntity {
	if len(seeds) == 0 {
		return nil
	}

	var total float64
	for id, w := range seeds {
		g.AddNode(id)
		total += w
	}
	if total <= 0 {
		return nil
	}

	ids := make([]string, 0, len(g.adj))
	for id := range g.adj {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	teleport := make([]float64, len(ids))
	for id, w := range seeds {
		teleport[index[id]] = w / total
	}
	outWeight := make([]float64, len(ids))
	for i, id := range ids {
		for _, w := range g.adj[id] {
			outWeight[i] += w
		}
	}

	rank := make([]float64, len(ids))
	copy(rank, teleport)
	next := make([]float64, len(ids))

	for iter := 0; iter < pageRankMaxIterations; iter++ {
		var dangling float64
		for i := range next {
			next[i] = 0
		}
		for i, id := range ids {
			if rank[i] == 0 {
				continue
			}
			if outWeight[i] == 0 {
				dangling += rank[i]
				continue
			}
			for nb, w := range g.adj[id] {
				next[index[nb]] += damping * rank[i] * w / outWeight[i]
			}
		}
		var delta float64
		for i := range next {
			next[i] += (1-damping)*teleport[i] + damping*dangling*teleport[i]
			delta += math.Abs(next[i] - rank[i])
		}
		rank, next = next, rank
		if delta < pageRankTolerance {
			break
		}
	}

	out := make([]common.ScoredEntity, 0, len(ids))
	for i, id := range ids {
		if rank[i] <= 0 {
			continue
		}
		out = append(out, common.ScoredEntity{EntityID: id, Score: rank[i]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
