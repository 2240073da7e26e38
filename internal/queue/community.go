package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mirojs/graphrag-orchestration-sub001/internal/util"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/leaselock"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"
)

var ErrMalformedMessage = errors.New("malformed queue message")

// CommunityEmbeddingMsg carries refreshed community embeddings of one tenant.
type CommunityEmbeddingMsg struct {
	TenantID   string                           `json:"tenant_id"`
	Updates    []store.CommunityEmbeddingUpdate `json:"updates"`
	EnqueuedAt time.Time                        `json:"enqueued_at"`
}

// CommunityPublisher implements community.EmbeddingWriter by publishing
// refreshed embeddings to CommunityEmbeddingQueue.
type CommunityPublisher struct {
	ch Publisher
}

func NewCommunityPublisher(ch Publisher) *CommunityPublisher {
	return &CommunityPublisher{ch: ch}
}

func (p *CommunityPublisher) WriteCommunityEmbeddings(ctx context.Context, tenantID string, updates []store.CommunityEmbeddingUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	body, err := json.Marshal(CommunityEmbeddingMsg{
		TenantID:   tenantID,
		Updates:    updates,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := PublishFIFO(ctx, p.ch, CommunityEmbeddingQueue, body); err != nil {
		return fmt.Errorf("publish community embeddings: %w", err)
	}
	logger.Debug("[Queue] Published community embeddings", "tenant", tenantID, "count", len(updates))
	return nil
}

// Locker runs fn while holding a named lease.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// CommunityLockKey is the lease guarding community writes of a tenant.
func CommunityLockKey(tenantID string) string {
	return "community-embeddings:" + tenantID
}

var communityLease = leaselock.Options{
	TTL:          2 * time.Minute,
	Wait:         true,
	WaitInterval: 250 * time.Millisecond,
	WaitJitter:   250 * time.Millisecond,
	TokenPrefix:  "worker-",
}

// ProcessCommunityEmbeddings persists one CommunityEmbeddingMsg under the
// tenant's lease. Malformed messages return ErrMalformedMessage.
func ProcessCommunityEmbeddings(
	ctx context.Context,
	s store.CommunityStore,
	locker Locker,
	body []byte,
) error {
	var msg CommunityEmbeddingMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.TenantID == "" {
		return fmt.Errorf("%w: missing tenant id", ErrMalformedMessage)
	}
	if len(msg.Updates) == 0 {
		return nil
	}
	for _, u := range msg.Updates {
		if u.CommunityID == "" || len(u.Embedding) == 0 || u.TextHash == "" {
			return fmt.Errorf("%w: incomplete update for community %q", ErrMalformedMessage, u.CommunityID)
		}
	}

	return locker.WithLease(ctx, CommunityLockKey(msg.TenantID), communityLease, func(ctx context.Context) error {
		err := util.RetryErrWithBackoff(ctx, 3, 500*time.Millisecond, func(ctx context.Context) error {
			return s.UpdateCommunityEmbeddings(ctx, msg.TenantID, msg.Updates)
		})
		if err != nil {
			return err
		}
		logger.Info("[Queue] Stored community embeddings",
			"tenant", msg.TenantID,
			"count", len(msg.Updates),
			"lag", time.Since(msg.EnqueuedAt),
		)
		return nil
	})
}
