package httpapi_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fenrick/MiroDiagramming/cache"
	"github.com/fenrick/MiroDiagramming/httpapi"
	"github.com/fenrick/MiroDiagramming/idempotency"
	"github.com/fenrick/MiroDiagramming/jobs"
	"github.com/fenrick/MiroDiagramming/task"
	"github.com/fenrick/MiroDiagramming/tokenauth"
	"github.com/fenrick/MiroDiagramming/tokenauth/sealer"
	"github.com/fenrick/MiroDiagramming/upstream"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*task.Task
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, t *task.Task) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, t)
	return int64(len(f.tasks)), nil
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*jobs.Job
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: make(map[uuid.UUID]*jobs.Job)} }

func (f *fakeJobs) Create(_ context.Context, total int) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := &jobs.Job{ID: uuid.New(), Status: jobs.Queued, Results: jobs.Results{Total: total}}
	f.jobs[j.ID] = j
	return j, nil
}

func (f *fakeJobs) Get(_ context.Context, id uuid.UUID) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	return j, nil
}

func (f *fakeJobs) RecordOperation(_ context.Context, id uuid.UUID, result jobs.OperationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Results.Operations = append(j.Results.Operations, result)
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*cache.Entry
}

func newFakeCache() *fakeCache { return &fakeCache{entries: make(map[string]*cache.Entry)} }

func (f *fakeCache) Get(_ context.Context, boardID string) (*cache.Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[boardID]
	return e, ok, nil
}

func (f *fakeCache) Set(_ context.Context, e *cache.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[e.BoardID] = e
	return nil
}

func (f *fakeCache) Purge(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeQueueLength struct{ n int64 }

func (f *fakeQueueLength) QueueLength(context.Context) (int64, error) { return f.n, nil }

type fakeGovernor struct{}

func (fakeGovernor) Fill() map[string]int { return map[string]int{"user-1": 3} }

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*tokenauth.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{users: make(map[string]*tokenauth.User)} }

func (f *fakeUsers) Get(_ context.Context, userID string) (*tokenauth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID], nil
}

func (f *fakeUsers) Put(_ context.Context, u *tokenauth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

type fakeOAuthClient struct {
	upstream.Client
	exchangeErr error
}

func (f *fakeOAuthClient) ExchangeCode(context.Context, string, string) (*upstream.TokenResponse, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &upstream.TokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*httpapi.Server, *fakeEnqueuer, *fakeJobs) {
	t.Helper()
	enqueuer := &fakeEnqueuer{}
	jobStore := newFakeJobs()
	s, err := sealer.New(nil)
	require.NoError(t, err)

	srv := httpapi.NewServer(
		httpapi.Config{MaxBatchSize: 500, LogMaxEntries: 1000, LogMaxPayloadBytes: 1 << 20, WebhookSecret: "shared-secret"},
		enqueuer,
		jobStore,
		newFakeCache(),
		&fakeQueueLength{n: 2},
		fakeGovernor{},
		idempotency.New(idempotency.Config{MemoryCapacity: 10}, memIdempotencyStore{store: make(map[string]*idempotency.Entry)}),
		newFakeUsers(),
		s,
		&fakeOAuthClient{},
		silentLogger(),
	)
	return srv, enqueuer, jobStore
}

type memIdempotencyStore struct {
	store map[string]*idempotency.Entry
}

func (m memIdempotencyStore) Get(_ context.Context, key string) (*idempotency.Entry, bool, error) {
	e, ok := m.store[key]
	return e, ok, nil
}

func (m memIdempotencyStore) Put(_ context.Context, e *idempotency.Entry) error {
	m.store[e.Key] = e
	return nil
}

func (m memIdempotencyStore) Purge(context.Context, time.Time) (int64, error) { return 0, nil }

func TestBatchAcceptsValidOperations(t *testing.T) {
	srv, enqueuer, _ := newTestServer(t)
	mux := srv.Mux()

	body := `{"operations":[{"type":"create_node","node_id":"n1","data":{}}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/batch", bytes.NewBufferString(body))
	req.Header.Set("X-User-Id", "user-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enqueuer.tasks, 1)

	var resp struct {
		JobID    uuid.UUID `json:"job_id"`
		Enqueued int       `json:"enqueued"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Enqueued)
}

func TestBatchRejectsUnknownOperationType(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.Mux()

	body := `{"operations":[{"type":"delete_everything"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/batch", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestBatchRejectsOversizedBatch(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.Mux()

	ops := make([]string, 0, 501)
	for i := 0; i < 501; i++ {
		ops = append(ops, `{"type":"create_node","node_id":"n","data":{}}`)
	}
	body := `{"operations":[` + joinCommas(ops) + `]}`
	req := httptest.NewRequest(http.MethodPost, "/api/batch", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func joinCommas(parts []string) string {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(p)
	}
	return buf.String()
}

func TestBatchIdempotentReplay(t *testing.T) {
	srv, enqueuer, _ := newTestServer(t)
	mux := srv.Mux()

	first := `{"operations":[{"type":"create_node","node_id":"n1","data":{}}]}`
	req1 := httptest.NewRequest(http.MethodPost, "/api/batch", bytes.NewBufferString(first))
	req1.Header.Set("Idempotency-Key", "abc")
	rec1 := httptest.NewRecorder()
	mux.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusAccepted, rec1.Code)
	require.Len(t, enqueuer.tasks, 1)

	second := `{"operations":[{"type":"create_node","node_id":"n2","data":{}}]}`
	req2 := httptest.NewRequest(http.MethodPost, "/api/batch", bytes.NewBufferString(second))
	req2.Header.Set("Idempotency-Key", "abc")
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req2)

	require.Equal(t, rec1.Body.Bytes(), rec2.Body.Bytes())
	require.Len(t, enqueuer.tasks, 1, "the replayed request must not enqueue new tasks")
}

func TestGetJobNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.Mux()

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobFound(t *testing.T) {
	srv, _, jobStore := newTestServer(t)
	mux := srv.Mux()

	j, err := jobStore.Create(context.Background(), 1)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+j.ID.String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.Mux()

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewBufferString(`{"events":[]}`))
	req.Header.Set("X-Miro-Signature", "not-the-right-signature")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookAcceptsValidSignature(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.Mux()

	body := `{"events":[{"event":"board_updated","data":{}}]}`
	sig := hmacHex(t, "shared-secret", body)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewBufferString(body))
	req.Header.Set("X-Miro-Signature", sig)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
}

func hmacHex(t *testing.T, secret, body string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestOAuthCallbackRejectsUnverifiedState(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.Mux()

	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?code=abc&state=just-a-nonce", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOAuthCallbackAcceptsVerifiedState(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.Mux()

	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?code=abc&state=nonce123:user-1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	require.Equal(t, "/app.html", rec.Header().Get("Location"))
}

func TestLimitsReportsQueueLengthAndBucketFill(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.Mux()

	req := httptest.NewRequest(http.MethodGet, "/api/limits", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		QueueLength int64          `json:"queue_length"`
		BucketFill  map[string]int `json:"bucket_fill"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(2), body.QueueLength)
	require.Equal(t, 3, body.BucketFill["user-1"])
}

func TestLogsRejectsTooManyEntries(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.Mux()

	entries := make([]string, 0, 1001)
	for i := 0; i < 1001; i++ {
		entries = append(entries, `{"timestamp":"2026-01-01T00:00:00Z","level":"info","message":"x"}`)
	}
	body := "[" + joinCommas(entries) + "]"

	req := httptest.NewRequest(http.MethodPost, "/api/logs", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCacheGetNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.Mux()

	req := httptest.NewRequest(http.MethodGet, "/api/cache/board-1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
