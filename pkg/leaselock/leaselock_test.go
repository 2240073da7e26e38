package leaselock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB keeps lease rows in memory and answers the three lease statements.
type fakeDB struct {
	mu   sync.Mutex
	rows map[string]fakeRow
	now  func() time.Time
}

type fakeRow struct {
	token   string
	expires time.Time
}

type scanRow struct {
	name string
	err  error
}

func (r scanRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.name
	return nil
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: map[string]fakeRow{}, now: time.Now}
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := args[0].(string)
	token := args[1].(string)
	ttl := time.Duration(args[2].(int64)) * time.Millisecond
	row, held := f.rows[name]

	switch sql {
	case tryAcquireSQL:
		if held && row.expires.After(f.now()) && row.token != token {
			return scanRow{err: pgx.ErrNoRows}
		}
		f.rows[name] = fakeRow{token: token, expires: f.now().Add(ttl)}
		return scanRow{name: name}
	case renewSQL:
		if !held || row.token != token {
			return scanRow{err: pgx.ErrNoRows}
		}
		f.rows[name] = fakeRow{token: token, expires: f.now().Add(ttl)}
		return scanRow{name: name}
	}
	return scanRow{err: errors.New("unexpected statement")}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := args[0].(string)
	token := args[1].(string)
	if row, ok := f.rows[name]; ok && row.token == token {
		delete(f.rows, name)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.NewCommandTag("DELETE 0"), nil
}

func TestAcquireBusyAndRelease(t *testing.T) {
	db := newFakeDB()
	c := New(db)
	ctx := context.Background()

	first, err := c.Acquire(ctx, "community-embeddings:t1", Options{TTL: time.Minute, TokenPrefix: "a-"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := c.Acquire(ctx, "community-embeddings:t1", Options{TTL: time.Minute}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := c.Acquire(ctx, "community-embeddings:t2", Options{TTL: time.Minute}); err != nil {
		t.Fatalf("other names must not be blocked: %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if first.Context.Err() == nil {
		t.Fatalf("lease context must be cancelled after release")
	}
	if _, err := c.Acquire(ctx, "community-embeddings:t1", Options{TTL: time.Minute}); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestAcquireTakesOverExpiredLease(t *testing.T) {
	db := newFakeDB()
	db.rows["job"] = fakeRow{token: "stale", expires: time.Now().Add(-time.Second)}

	lease, err := New(db).Acquire(context.Background(), "job", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if db.rows["job"].token != lease.Token {
		t.Fatalf("expired lease not taken over")
	}
}

func TestAcquireWaitHonorsContext(t *testing.T) {
	db := newFakeDB()
	db.rows["job"] = fakeRow{token: "other", expires: time.Now().Add(time.Hour)}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(db).Acquire(ctx, "job", Options{Wait: true, WaitInterval: 10 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestEmptyKey(t *testing.T) {
	if _, err := New(newFakeDB()).Acquire(context.Background(), "", Options{}); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestWithLeaseReportsLostLease(t *testing.T) {
	db := newFakeDB()
	c := New(db)

	err := c.WithLease(context.Background(), "job", Options{TTL: 2 * time.Second, RenewEvery: 10 * time.Millisecond}, func(ctx context.Context) error {
		db.mu.Lock()
		delete(db.rows, "job")
		db.mu.Unlock()

		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrLost) {
		t.Fatalf("expected ErrLost, got %v", err)
	}
}

func TestWithLeaseReleases(t *testing.T) {
	db := newFakeDB()
	called := false
	err := New(db).WithLease(context.Background(), "job", Options{}, func(ctx context.Context) error {
		called = true
		if _, ok := db.rows["job"]; !ok {
			t.Errorf("lease row missing while held")
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("with lease: called=%v err=%v", called, err)
	}
	if _, ok := db.rows["job"]; ok {
		t.Fatalf("lease row left behind")
	}
}
