package capturestore

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofatutor/park/internal/harlog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{URI: "sqlite::memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleHAR(method string, status int) *harlog.HAR {
	u, _ := url.Parse("http://up/echo")
	return harlog.Build(
		harlog.TransactionRequest{Method: method, URL: u, HTTPVersion: "HTTP/1.1"},
		harlog.TransactionResponse{Status: status, HTTPVersion: "HTTP/1.1"},
		harlog.Timing{},
	)
}

func TestOpen_RunsMigrations(t *testing.T) {
	s := openTestStore(t)
	latest, err := s.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestAppend_ReturnsIncreasingIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.Append(ctx, sampleHAR(http.MethodGet, 200))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	id2, err := s.Append(ctx, sampleHAR(http.MethodGet, 200))
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Less(t, id1, id2, "request_id must strictly increase with submission order")
}

// TestLatest_ReturnsMostRecentlyAppended covers invariant 2 / property 5.
func TestLatest_ReturnsMostRecentlyAppended(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, sampleHAR(http.MethodGet, 200))
	require.NoError(t, err)
	_, err = s.Append(ctx, sampleHAR(http.MethodPost, 201))
	require.NoError(t, err)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, http.MethodPost, latest.Log.Entries[0].Request.Method)
	assert.Equal(t, 201, latest.Log.Entries[0].Response.Status)
}

func TestSizeProbe_ReturnsPositiveValue(t *testing.T) {
	s := openTestStore(t)
	size, err := s.SizeProbe(context.Background())
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}

func TestCompact_IsSafeConcurrentlyWithAppend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			_, _ = s.Append(ctx, sampleHAR(http.MethodGet, 200))
		}
	}()

	require.NoError(t, s.Compact(ctx))
	<-done
}

func TestRunCompactor_CompactsWhenOverSize(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, sampleHAR(http.MethodGet, 200))
		require.NoError(t, err)
	}

	go s.RunCompactor(ctx, 1, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
}

func TestOpen_InvalidURIFails(t *testing.T) {
	_, err := Open(Config{URI: ""}, nil)
	assert.Error(t, err)
}
