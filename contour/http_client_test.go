package contour

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchObservations_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Contains(t, r.Header.Get("Accept"), "application/json")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(stationArray))
	}))
	defer srv.Close()

	obs, err := FetchObservations(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, obs, 3)
}

func TestFetchObservations_GzipBody(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write([]byte(stationCollection))
	require.NoError(t, gw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	obs, err := FetchObservations(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, obs, 2)
}

func TestFetchObservations_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(stationArray))
	}))
	defer srv.Close()

	obs, err := FetchObservations(context.Background(), srv.URL,
		WithMaxRetries(3),
		WithBaseBackoff(time.Millisecond),
	)
	require.NoError(t, err)
	assert.Len(t, obs, 3)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchObservations_AllAttemptsFail(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := FetchObservations(context.Background(), srv.URL,
		WithMaxRetries(2),
		WithBaseBackoff(time.Millisecond),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 attempts failed")
	assert.Contains(t, err.Error(), "status 500")
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchObservations_DecodeErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[{"lat": 1}]`))
	}))
	defer srv.Close()

	_, err := FetchObservations(context.Background(), srv.URL, WithBaseBackoff(time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchObservations_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, err := FetchObservations(context.Background(), srv.URL,
		WithTimeout(20*time.Millisecond),
		WithMaxRetries(1),
	)
	assert.Error(t, err)
}

func TestFetchObservations_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := FetchObservations(ctx, srv.URL,
		WithMaxRetries(5),
		WithBaseBackoff(time.Second),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetchObservations_EmptyURL(t *testing.T) {
	_, err := FetchObservations(context.Background(), "")
	assert.Error(t, err)
}

func TestFetchObservations_CustomClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(stationArray))
	}))
	defer srv.Close()

	obs, err := FetchObservations(context.Background(), srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	assert.Len(t, obs, 3)
}
