package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mid "github.com/mirojs/graphrag-orchestration-sub001/internal/server/middleware"
	"github.com/mirojs/graphrag-orchestration-sub001/internal/storage"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/query"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/retrieval"

	"github.com/golang-jwt/jwt/v5"
)

const (
	masterKey = "master-key"
	jwtSecret = "test-secret"
)

type fakeRetriever struct {
	lastReq retrieval.Request
	bundle  *common.EvidenceBundle
	answer  *retrieval.Answer
	err     error
}

func (f *fakeRetriever) ResolveAndRetrieve(ctx context.Context, req retrieval.Request) (*common.EvidenceBundle, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	query.RecordRankedEntities(req.Tracer, "e1")
	return f.bundle, nil
}

func (f *fakeRetriever) Answer(ctx context.Context, req retrieval.Request) (*retrieval.Answer, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

type memoryTraces struct {
	traces map[string]query.QueryTraceSnapshot
}

func (m *memoryTraces) PutTrace(ctx context.Context, tenantID string, snap query.QueryTraceSnapshot) error {
	m.traces[tenantID+"/"+snap.ID] = snap
	return nil
}

func (m *memoryTraces) GetTrace(ctx context.Context, tenantID, traceID string) (*query.QueryTraceSnapshot, error) {
	snap, ok := m.traces[tenantID+"/"+traceID]
	if !ok {
		return nil, storage.ErrTraceNotFound
	}
	return &snap, nil
}

func (m *memoryTraces) ListTraceIDs(ctx context.Context, tenantID string) ([]string, error) {
	var ids []string
	for key, snap := range m.traces {
		if strings.HasPrefix(key, tenantID+"/") {
			ids = append(ids, snap.ID)
		}
	}
	return ids, nil
}

func bundleWithPassage() *common.EvidenceBundle {
	return &common.EvidenceBundle{
		TenantID:       "t1",
		Query:          "Who built the bridge?",
		RankedEntities: []common.ScoredEntity{{EntityID: "e1", Score: 0.4}},
		RankedPassages: []common.PassageEvidence{{
			SentenceID: "s1", DocumentID: "d1", DocumentTitle: "Report", Text: "Acme built the bridge.",
		}},
		MatchedCommunities: []common.Community{},
	}
}

func newTestApp(r *fakeRetriever) (*mid.App, *memoryTraces) {
	traces := &memoryTraces{traces: map[string]query.QueryTraceSnapshot{}}
	return &mid.App{
		Retriever:      r,
		Traces:         traces,
		Keyfunc:        func(*jwt.Token) (any, error) { return []byte(jwtSecret), nil },
		MasterAPIKey:   masterKey,
		MasterUserID:   1,
		MasterUserRole: "admin",
	}, traces
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	claims["exp"] = time.Now().Add(time.Hour).Unix()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func do(t *testing.T, app *mid.App, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	NewEcho(app).ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(&fakeRetriever{})
	rec := do(t, app, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuth(t *testing.T) {
	r := &fakeRetriever{bundle: bundleWithPassage()}
	app, _ := newTestApp(r)
	body := `{"query":"Who built the bridge?"}`

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"master key", masterKey, http.StatusOK},
		{"member", signToken(t, jwt.MapClaims{"id": "7", "permissions": []any{"project.query"}, "projects": []any{"t1"}}), http.StatusOK},
		{"other project", signToken(t, jwt.MapClaims{"id": "7", "permissions": []any{"project.query"}, "projects": []any{"t2"}}), http.StatusForbidden},
		{"missing permission", signToken(t, jwt.MapClaims{"id": 7.0, "projects": []any{"t1"}}), http.StatusForbidden},
		{"admin", signToken(t, jwt.MapClaims{"id": 3.0, "role": "admin"}), http.StatusOK},
		{"bad user id", signToken(t, jwt.MapClaims{"id": "abc", "role": "admin"}), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, app, http.MethodPost, "/api/projects/t1/retrieve", tt.token, body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRetrieveHandler(t *testing.T) {
	r := &fakeRetriever{bundle: bundleWithPassage()}
	app, traces := newTestApp(r)

	rec := do(t, app, http.MethodPost, "/api/projects/t1/retrieve", masterKey,
		`{"query":"Who built the bridge?","profile":"entity_heavy","weights":{"w1":0.5,"w2":0.3,"w3":0.2},"trace":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if r.lastReq.TenantID != "t1" || r.lastReq.Query != "Who built the bridge?" {
		t.Fatalf("unexpected request: %+v", r.lastReq)
	}
	if r.lastReq.Profile.W1 != 0.5 || r.lastReq.Profile.Label != "entity_heavy" {
		t.Fatalf("profile not passed through: %+v", r.lastReq.Profile)
	}

	var resp struct {
		Evidence common.EvidenceBundle    `json:"evidence"`
		TraceID  string                   `json:"trace_id"`
		Trace    query.QueryTraceSnapshot `json:"trace"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Evidence.RankedPassages) != 1 || resp.TraceID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Trace.RankedEntities) != 1 {
		t.Fatalf("trace snapshot missing ranked entities: %+v", resp.Trace)
	}
	if _, ok := traces.traces["t1/"+resp.TraceID]; !ok {
		t.Fatalf("trace not archived")
	}
}

func TestQueryHandler(t *testing.T) {
	bundle := bundleWithPassage()
	r := &fakeRetriever{answer: &retrieval.Answer{
		Text:      "Acme Corp built it [[s1]].",
		Citations: []string{"s1"},
		Bundle:    bundle,
	}}
	app, _ := newTestApp(r)

	rec := do(t, app, http.MethodPost, "/api/projects/t1/query", masterKey,
		`{"messages":[{"role":"user","message":"Who built the bridge?"},{"role":"assistant","message":"Acme."},{"role":"user","message":"Which one?"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if r.lastReq.Query != "Which one?" || len(r.lastReq.History) != 2 {
		t.Fatalf("conversation not split: %+v", r.lastReq)
	}

	var resp struct {
		Message string `json:"message"`
		Data    []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
		Negative bool `json:"negative"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message != "Acme Corp built it [[s1]]." || len(resp.Data) != 1 || resp.Data[0].Name != "Report" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Negative {
		t.Fatalf("bundle with evidence is not negative")
	}
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"no question", `{"messages":[{"role":"assistant","message":"hi"}]}`, nil, http.StatusBadRequest},
		{"weights out of range", `{"query":"q","weights":{"w1":2}}`, nil, http.StatusBadRequest},
		{"invalid weights", `{"query":"q"}`, retrieval.ErrInvalidWeights, http.StatusBadRequest},
		{"stage failure", `{"query":"q"}`, &retrieval.StageError{Stage: retrieval.StagePPR, Err: errors.New("db down")}, http.StatusInternalServerError},
		{"malformed teleport", `{"query":"q"}`, &retrieval.StageError{Stage: retrieval.StagePPR, Err: retrieval.ErrMalformedTeleport}, http.StatusInternalServerError},
		{"no synthesizer", `{"query":"q"}`, retrieval.ErrNoSynthesizer, http.StatusNotImplemented},
		{"timeout", `{"query":"q"}`, context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(&fakeRetriever{err: tt.err})
			rec := do(t, app, http.MethodPost, "/api/projects/t1/query", masterKey, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestTraceRoutes(t *testing.T) {
	app, traces := newTestApp(&fakeRetriever{})
	traces.traces["t1/abc"] = query.QueryTraceSnapshot{ID: "abc", Damping: 0.8}

	rec := do(t, app, http.MethodGet, "/api/projects/t1/traces/abc", masterKey, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"damping":0.8`) {
		t.Fatalf("unexpected trace response %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, app, http.MethodGet, "/api/projects/t1/traces/missing", masterKey, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = do(t, app, http.MethodGet, "/api/projects/t1/traces", masterKey, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"abc"`) {
		t.Fatalf("unexpected list response %d: %s", rec.Code, rec.Body.String())
	}

	app.Traces = nil
	rec = do(t, app, http.MethodGet, "/api/projects/t1/traces", masterKey, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("disabled archive must answer 404, got %d", rec.Code)
	}
}

type fakeCommunities struct {
	invalidated []string
	refreshed   int
}

func (f *fakeCommunities) Invalidate(tenantID string) {
	f.invalidated = append(f.invalidated, tenantID)
}

func (f *fakeCommunities) EnsureEmbeddings(ctx context.Context, tenantID string) (int, error) {
	return f.refreshed, nil
}

func TestRefreshCommunities(t *testing.T) {
	app, _ := newTestApp(&fakeRetriever{})
	communities := &fakeCommunities{refreshed: 3}
	app.Communities = communities

	rec := do(t, app, http.MethodPost, "/api/projects/t1/communities/refresh", masterKey, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"refreshed":3`) {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
	if len(communities.invalidated) != 1 || communities.invalidated[0] != "t1" {
		t.Fatalf("cache not invalidated: %v", communities.invalidated)
	}

	member := signToken(t, jwt.MapClaims{"id": "7", "permissions": []any{"project.query"}, "projects": []any{"t1"}})
	rec = do(t, app, http.MethodPost, "/api/projects/t1/communities/refresh", member, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without project.update, got %d", rec.Code)
	}
}
