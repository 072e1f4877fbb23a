package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/school-rankings-crawler/internal/school"
	"github.com/JakeFAU/school-rankings-crawler/internal/storage/memory"
)

func ptr(n int) *int { return &n }

func newTestServer(t *testing.T) (*Server, *memory.SchoolStore) {
	t.Helper()
	store := memory.NewSchoolStore()
	ctx := context.Background()
	for _, sc := range []school.School{
		{ID: "lake-2012", Name: "Lake High", City: "Austin", State: "TX", NationalRank: ptr(4), Year: ptr(2012)},
		{ID: "lake-2014", Name: "Lake High", City: "Austin", State: "TX", NationalRank: ptr(2), Year: ptr(2014)},
		{ID: "hill", Name: "Hill Academy", City: "Boston", State: "MA", Year: ptr(2013)},
	} {
		require.NoError(t, store.Put(ctx, sc))
	}
	return NewServer(store, zap.NewNop()), store
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	_ = do(t, s, http.MethodGet, "/healthz", "")
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestSearch(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/v1/schools/search?name=lake&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Schools []school.Summary `json:"schools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Schools, 1)
	assert.Equal(t, "Lake High", body.Schools[0].Name)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/schools/search", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/schools/search?name=x&limit=abc", "").Code)
}

func TestGetSchool(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/v1/schools/hill", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sc school.School
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sc))
	assert.Equal(t, "Hill Academy", sc.Name)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/schools/nope", "").Code)
}

func TestListSchools(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/v1/schools?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Schools []school.School `json:"schools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Schools, 2)
	assert.Equal(t, "lake-2014", body.Schools[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/schools?offset=-1", "").Code)
}

func TestRankingsAndOverview(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/v1/schools/lake-2012/rankings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rankings struct {
		ID       string           `json:"id"`
		Rankings []school.Ranking `json:"rankings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rankings))
	assert.Equal(t, "lake-2012", rankings.ID)
	require.Len(t, rankings.Rankings, 2)
	assert.Equal(t, 2014, *rankings.Rankings[0].Year)

	rec = do(t, s, http.MethodGet, "/v1/schools/lake-2014/overview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var overview school.Overview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overview))
	assert.Equal(t, "lake-2014", overview.School.ID)
	assert.Len(t, overview.Rankings, 2)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/schools/nope/overview", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/schools/nope/rankings", "").Code)
}

func TestUpdateSchool(t *testing.T) {
	t.Parallel()
	s, store := newTestServer(t)

	rec := do(t, s, http.MethodPatch, "/v1/schools/hill", `{"national_rank": 12, "phone": "555-0100"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := store.Get(context.Background(), "hill")
	require.NoError(t, err)
	assert.Equal(t, 12, *got.NationalRank)
	assert.Equal(t, "555-0100", got.Phone)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPatch, "/v1/schools/hill", `{"bogus": 1}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPatch, "/v1/schools/hill", `not json`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPatch, "/v1/schools/nope", `{"phone": "1"}`).Code)
}

func TestDeleteSchool(t *testing.T) {
	t.Parallel()
	s, store := newTestServer(t)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/v1/schools/hill", "").Code)
	_, err := store.Get(context.Background(), "hill")
	assert.ErrorIs(t, err, school.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/v1/schools/hill", "").Code)
}

type failingStore struct {
	school.Store
}

func (failingStore) Get(context.Context, string) (school.School, error) {
	return school.School{}, errors.New("connection reset")
}

func (failingStore) SearchByName(context.Context, string, int) ([]school.Summary, error) {
	panic("unexpected")
}

func TestStoreFailures(t *testing.T) {
	t.Parallel()
	s := NewServer(failingStore{}, zap.NewNop())

	rec := do(t, s, http.MethodGet, "/v1/schools/x", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to get school")

	rec = do(t, s, http.MethodGet, "/v1/schools/search?name=x", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestNilStoreIsUnavailable(t *testing.T) {
	t.Parallel()
	s := NewServer(nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/v1/schools/x", "").Code)
}
