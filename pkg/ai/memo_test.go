package ai

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type countingEmbedder struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (e *countingEmbedder) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	e.calls.Add(1)
	if e.fail.Load() {
		return nil, errors.New("embedding backend down")
	}
	return []float32{float32(len(input)), 1}, nil
}

func (e *countingEmbedder) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v, err := e.GenerateEmbedding(ctx, in)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *countingEmbedder) EmbeddingDimension() int { return 2 }

func TestQueryEmbeddingComputesOnce(t *testing.T) {
	emb := &countingEmbedder{}
	q := NewQueryEmbedding(emb, "who owns acme")

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := q.Get(context.Background())
			if err != nil || len(v) != 2 {
				t.Errorf("unexpected result %v %v", v, err)
			}
		}()
	}
	wg.Wait()

	if _, err := q.Get(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := emb.calls.Load(); got != 1 {
		t.Fatalf("expected one embedding call, got %d", got)
	}
}

func TestQueryEmbeddingRetriesAfterFailure(t *testing.T) {
	emb := &countingEmbedder{}
	emb.fail.Store(true)
	q := NewQueryEmbedding(emb, "q")

	if _, err := q.Get(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	emb.fail.Store(false)
	if _, err := q.Get(context.Background()); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if got := emb.calls.Load(); got != 2 {
		t.Fatalf("expected two embedding calls, got %d", got)
	}
}

func TestPrecomputedSkipsEmbedder(t *testing.T) {
	q := Precomputed("q", []float32{1, 2, 3})
	v, err := q.Get(context.Background())
	if err != nil || len(v) != 3 {
		t.Fatalf("unexpected result %v %v", v, err)
	}
}
