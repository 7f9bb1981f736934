package controlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofatutor/park/internal/harlog"
)

type fakeStore struct {
	har *harlog.HAR
	err error
}

func (s *fakeStore) Latest(ctx context.Context) (*harlog.HAR, error) {
	return s.har, s.err
}

type echoReplayer struct {
	lastReq *http.Request
}

func (e *echoReplayer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.lastReq = r
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func newTestServer(store Store, replay Replayer) *Server {
	return New("127.0.0.1:0", store, replay, nil)
}

func TestIndex_Liveness(t *testing.T) {
	s := newTestServer(&fakeStore{}, &echoReplayer{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello, World!", rec.Body.String())
}

func TestLatest_ReturnsStoredHAR(t *testing.T) {
	u, _ := url.Parse("http://up/echo")
	h := harlog.Build(
		harlog.TransactionRequest{Method: http.MethodGet, URL: u},
		harlog.TransactionResponse{Status: 200, Body: []byte("pong")},
		harlog.Timing{},
	)
	s := newTestServer(&fakeStore{har: h}, &echoReplayer{})

	req := httptest.NewRequest(http.MethodGet, "/requests/latest", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got harlog.HAR
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "pong", got.Log.Entries[0].Response.Content.Text)
}

func TestLatest_EmptyStoreReturns404(t *testing.T) {
	s := newTestServer(&fakeStore{har: nil}, &echoReplayer{})
	req := httptest.NewRequest(http.MethodGet, "/requests/latest", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestRequests_ReplaysDecodedHAR covers S4: POST /requests with a stored
// HAR's JSON replays through the proxy and returns its response.
func TestRequests_ReplaysDecodedHAR(t *testing.T) {
	u, _ := url.Parse("http://up/echo")
	h := harlog.Build(
		harlog.TransactionRequest{Method: http.MethodGet, URL: u},
		harlog.TransactionResponse{Status: 200, Body: []byte("pong")},
		harlog.Timing{},
	)
	blob, err := json.Marshal(h)
	require.NoError(t, err)

	replayer := &echoReplayer{}
	s := newTestServer(&fakeStore{}, replayer)

	req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewReader(blob))
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
	require.NotNil(t, replayer.lastReq)
	assert.Equal(t, http.MethodGet, replayer.lastReq.Method)
}

func TestRequests_MalformedHARReturns400(t *testing.T) {
	s := newTestServer(&fakeStore{}, &echoReplayer{})
	req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Malformed har file")
}

func TestUnknownRoute_Returns404(t *testing.T) {
	s := newTestServer(&fakeStore{}, &echoReplayer{})
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
