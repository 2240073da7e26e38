package pgx

import (
	"context"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/semaphore"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
}

// GraphDBStorage implements store.GraphBackend on PostgreSQL with pgvector.
// Every query is scoped by tenant_id. Concurrent queries are bounded by a
// weighted semaphore so one retrieval run cannot exhaust the pool.
type GraphDBStorage struct {
	conn        pgxIConn
	sem         *semaphore.Weighted
	batchSize   int
	closeFn     func()
	maxParallel int64
}

var _ store.GraphBackend = (*GraphDBStorage)(nil)

type GraphDBStorageOption func(*GraphDBStorage)

// WithMaxParallel bounds the number of in-flight queries. Values below 1 are ignored.
func WithMaxParallel(n int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		if n > 0 {
			s.maxParallel = int64(n)
		}
	}
}

// WithBatchSize sets the number of rows written per batch.
func WithBatchSize(n int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithCloser registers a function run by Close, usually the pool's Close.
func WithCloser(fn func()) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.closeFn = fn
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection or pool. The caller must have registered the pgvector types.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		conn:        conn,
		batchSize:   200,
		maxParallel: 8,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	s.sem = semaphore.NewWeighted(s.maxParallel)
	return s
}

func (s *GraphDBStorage) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

func (s *GraphDBStorage) acquire(ctx context.Context) (func(), error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.sem.Release(1) }, nil
}

func (s *GraphDBStorage) query(ctx context.Context, sql string, args ...any) (pgxv5.Rows, func(), error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		release()
		return nil, nil, err
	}
	return rows, release, nil
}
