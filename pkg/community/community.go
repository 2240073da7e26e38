// Package community keeps a per-tenant cache of precomputed communities and
// matches queries against their summary embeddings.
package community

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMinSimilarity    = 0.05
	DefaultTTL              = 10 * time.Minute
	DefaultWriteBackTimeout = 30 * time.Second
)

// EmbeddingWriter persists refreshed community embeddings.
type EmbeddingWriter interface {
	WriteCommunityEmbeddings(ctx context.Context, tenantID string, updates []store.CommunityEmbeddingUpdate) error
}

// StoreWriter writes refreshed embeddings straight to the graph store.
type StoreWriter struct {
	Store store.CommunityStore
}

func (w StoreWriter) WriteCommunityEmbeddings(ctx context.Context, tenantID string, updates []store.CommunityEmbeddingUpdate) error {
	return w.Store.UpdateCommunityEmbeddings(ctx, tenantID, updates)
}

// Options configure an Index. MinSimilarity is used as given, so a zero
// floor admits every community; start from DefaultOptions.
type Options struct {
	MinSimilarity    float64
	TTL              time.Duration
	WriteBackTimeout time.Duration
}

type tenantEntry struct {
	mu          sync.Mutex
	communities []common.Community
}

// Index owns the community cache. Safe for concurrent use.
type Index struct {
	store    store.CommunityStore
	embedder ai.Embedder
	writer   EmbeddingWriter

	cache *cache.Cache
	group singleflight.Group

	pending sync.WaitGroup

	minSimilarity    float64
	writeBackTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MinSimilarity:    DefaultMinSimilarity,
		TTL:              DefaultTTL,
		WriteBackTimeout: DefaultWriteBackTimeout,
	}
}

// NewIndex creates an Index. A nil writer disables write-back.
func NewIndex(s store.CommunityStore, embedder ai.Embedder, writer EmbeddingWriter, opts Options) *Index {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.WriteBackTimeout <= 0 {
		opts.WriteBackTimeout = DefaultWriteBackTimeout
	}
	return &Index{
		store:            s,
		embedder:         embedder,
		writer:           writer,
		cache:            cache.New(opts.TTL, 2*opts.TTL),
		minSimilarity:    opts.MinSimilarity,
		writeBackTimeout: opts.WriteBackTimeout,
	}
}

// SourceText is the text a community embedding is computed from.
func SourceText(c common.Community) string {
	if strings.TrimSpace(c.Summary) != "" {
		return c.Summary
	}
	return c.Title + ": " + strings.Join(c.MemberNames, ", ")
}

// TextHash is the hex SHA-256 of text.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// IsStale reports whether c needs a new embedding for an embedder of dimension dim.
func IsStale(c common.Community, dim int) bool {
	if len(c.Embedding) == 0 {
		return true
	}
	if dim > 0 && len(c.Embedding) != dim {
		return true
	}
	return c.EmbeddingTextHash != TextHash(SourceText(c))
}

// Load reads the tenant's communities from the store into the cache,
// replacing any cached copy. Concurrent loads of one tenant share a read.
func (i *Index) Load(ctx context.Context, tenantID string) error {
	_, err := i.load(ctx, tenantID)
	return err
}

func (i *Index) load(ctx context.Context, tenantID string) (*tenantEntry, error) {
	v, err, _ := i.group.Do(tenantID, func() (any, error) {
		communities, err := i.store.LoadCommunities(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("load communities: %w", err)
		}
		entry := &tenantEntry{communities: communities}
		i.cache.SetDefault(tenantID, entry)
		logger.Debug("[Community] loaded communities", "tenant", tenantID, "count", len(communities))
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tenantEntry), nil
}

func (i *Index) entry(ctx context.Context, tenantID string) (*tenantEntry, error) {
	if v, ok := i.cache.Get(tenantID); ok {
		return v.(*tenantEntry), nil
	}
	return i.load(ctx, tenantID)
}

// syncSources brings the cached communities of a tenant in line with the stored
// source text. Edited communities take the stored text, which makes them
// stale for EnsureEmbeddings. Added or removed communities force a reload.
func (i *Index) syncSources(ctx context.Context, tenantID string) error {
	v, ok := i.cache.Get(tenantID)
	if !ok {
		_, err := i.load(ctx, tenantID)
		return err
	}
	entry := v.(*tenantEntry)

	sources, err := i.store.LoadCommunitySources(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load community sources: %w", err)
	}

	entry.mu.Lock()
	edited, changed := applySources(entry.communities, sources)
	if changed && edited != nil {
		entry.communities = edited
	}
	entry.mu.Unlock()

	if changed && edited == nil {
		logger.Debug("[Community] community set changed, reloading", "tenant", tenantID)
		i.Invalidate(tenantID)
		_, err := i.load(ctx, tenantID)
		return err
	}
	if changed {
		logger.Debug("[Community] picked up edited communities", "tenant", tenantID)
	}
	return nil
}

// applySources returns a copy of cached with edited source text applied and
// whether anything differed. A nil copy with changed set means the set of
// community ids differs and the tenant must be reloaded.
func applySources(cached []common.Community, sources []store.CommunitySource) ([]common.Community, bool) {
	if len(cached) != len(sources) {
		return nil, true
	}
	pos := make(map[string]int, len(cached))
	for n, c := range cached {
		pos[c.ID] = n
	}

	var out []common.Community
	for _, src := range sources {
		n, ok := pos[src.ID]
		if !ok {
			return nil, true
		}
		c := cached[n]
		if c.Title == src.Title && c.Summary == src.Summary &&
			slices.Equal(c.MemberEntityIDs, src.MemberEntityIDs) &&
			slices.Equal(c.MemberNames, src.MemberNames) {
			continue
		}
		if out == nil {
			out = slices.Clone(cached)
		}
		out[n].Title = src.Title
		out[n].Summary = src.Summary
		out[n].MemberEntityIDs = slices.Clone(src.MemberEntityIDs)
		out[n].MemberNames = slices.Clone(src.MemberNames)
	}
	return out, out != nil
}

// Invalidate drops the cached communities of a tenant.
func (i *Index) Invalidate(tenantID string) {
	i.cache.Delete(tenantID)
}

// Flush waits for every pending write-back.
func (i *Index) Flush() {
	i.pending.Wait()
}

// EnsureEmbeddings re-embeds every stale community of the tenant in one batch
// and returns how many were refreshed. The cache is updated before the
// asynchronous write-back starts.
func (i *Index) EnsureEmbeddings(ctx context.Context, tenantID string) (int, error) {
	entry, err := i.entry(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	dim := i.embedder.EmbeddingDimension()
	var stale []int
	var texts [][]byte
	var hashes []string
	for idx, c := range entry.communities {
		if !IsStale(c, dim) {
			continue
		}
		text := SourceText(c)
		stale = append(stale, idx)
		texts = append(texts, []byte(text))
		hashes = append(hashes, TextHash(text))
	}
	if len(stale) == 0 {
		return 0, nil
	}

	vectors, err := i.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed communities: %w", err)
	}
	if len(vectors) != len(stale) {
		return 0, fmt.Errorf("embed communities: got %d vectors for %d texts", len(vectors), len(stale))
	}

	updated := make([]common.Community, len(entry.communities))
	copy(updated, entry.communities)
	updates := make([]store.CommunityEmbeddingUpdate, 0, len(stale))
	for n, idx := range stale {
		updated[idx].Embedding = vectors[n]
		updated[idx].EmbeddingTextHash = hashes[n]
		updates = append(updates, store.CommunityEmbeddingUpdate{
			CommunityID: updated[idx].ID,
			Embedding:   vectors[n],
			TextHash:    hashes[n],
		})
	}
	entry.communities = updated

	logger.Info("[Community] refreshed stale embeddings", "tenant", tenantID, "count", len(updates))
	i.writeBack(ctx, tenantID, updates)
	return len(updates), nil
}

func (i *Index) writeBack(ctx context.Context, tenantID string, updates []store.CommunityEmbeddingUpdate) {
	if i.writer == nil || len(updates) == 0 {
		return
	}
	i.pending.Add(1)
	go func() {
		defer i.pending.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.writeBackTimeout)
		defer cancel()
		if err := i.writer.WriteCommunityEmbeddings(wctx, tenantID, updates); err != nil {
			logger.Warn("[Community] embedding write-back failed", "tenant", tenantID, "count", len(updates), "err", err)
		}
	}()
}

// Snapshot returns a copy of the cached communities of a tenant.
func (i *Index) Snapshot(ctx context.Context, tenantID string) ([]common.Community, error) {
	entry, err := i.entry(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]common.Community, len(entry.communities))
	copy(out, entry.communities)
	return out, nil
}

// Match embeds query and returns the topK communities most similar to it.
func (i *Index) Match(ctx context.Context, tenantID, query string, topK int) ([]common.CommunityMatch, error) {
	return i.MatchEmbedding(ctx, tenantID, ai.NewQueryEmbedding(i.embedder, query), topK)
}

// MatchEmbedding is Match for a shared query embedding. The cache is checked
// against the stored community text and stale communities are refreshed
// first; if that fails only communities with a usable embedding take part. Scores below the minimum similarity are dropped, so an empty
// result is returned rather than unrelated communities.
func (i *Index) MatchEmbedding(ctx context.Context, tenantID string, q *ai.QueryEmbedding, topK int) ([]common.CommunityMatch, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := i.syncSources(ctx, tenantID); err != nil {
		logger.Warn("[Community] could not check cached communities", "tenant", tenantID, "err", err)
	}
	if _, err := i.EnsureEmbeddings(ctx, tenantID); err != nil {
		logger.Warn("[Community] could not refresh embeddings", "tenant", tenantID, "err", err)
	}

	communities, err := i.Snapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(communities) == 0 {
		return nil, nil
	}

	vec, err := q.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var best float64
	var scored int
	matches := make([]common.CommunityMatch, 0, len(communities))
	for _, c := range communities {
		if len(c.Embedding) != len(vec) {
			continue
		}
		score := store.Cosine(vec, c.Embedding)
		scored++
		if score > best {
			best = score
		}
		if score < i.minSimilarity {
			continue
		}
		matches = append(matches, common.CommunityMatch{Community: c, Score: score})
	}

	if len(matches) == 0 {
		if scored > 0 {
			logger.Warn("[Community] no community above similarity floor, embedding spaces may differ",
				"tenant", tenantID, "best", best, "floor", i.minSimilarity)
		}
		return nil, nil
	}

	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			return matches[a].Score > matches[b].Score
		}
		return matches[a].Community.Rank > matches[b].Community.Rank
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
