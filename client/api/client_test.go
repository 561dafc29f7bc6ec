package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readsync/server/common/transport/httpresp"
	"readsync/server/sessiond/domain"
)

type staticTokens string

func (s staticTokens) Token() string { return string(s) }

func TestClientAttachesBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer server.Close()

	client := NewClient(staticTokens("tok-123"), server.URL)
	var out map[string]any
	require.NoError(t, client.Get(context.Background(), "/health", nil, &out))
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestClientSkipsAuthHeaderWhenAnonymous(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer server.Close()

	client := NewClient(staticTokens(""), server.URL)
	var out map[string]any
	require.NoError(t, client.Get(context.Background(), "/health", nil, &out))
	assert.Empty(t, gotAuth)
}

func TestClientMapsUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
	}))
	defer server.Close()

	client := NewClient(nil, server.URL)
	err := client.Get(context.Background(), BasePath+"/list", nil, nil)
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.True(t, IsRejected(err))
	assert.False(t, IsTransient(err))
}

func TestClientMapsKnownRejections(t *testing.T) {
	cases := []struct {
		status  int
		message string
		want    error
	}{
		{http.StatusNotFound, httpresp.ErrInvalidInviteCode, ErrInvalidInviteCode},
		{http.StatusConflict, httpresp.ErrSessionFull, ErrSessionFull},
		{http.StatusGone, httpresp.ErrSessionEnded, ErrSessionEnded},
		{http.StatusNotFound, httpresp.ErrSessionNotFound, ErrNotFound},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_ = json.NewEncoder(w).Encode(httpresp.NewErrorResponse(tc.message))
		}))
		client := NewClient(nil, server.URL)

		_, _, err := client.JoinByInviteCode(context.Background(), "ABC123")
		assert.ErrorIs(t, err, tc.want, "message %q", tc.message)
		assert.True(t, IsRejected(err))
		server.Close()
	}
}

func TestClientMapsUnknownRejectionToRejectedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(httpresp.NewErrorResponse(httpresp.ErrHostOnly))
	}))
	defer server.Close()

	client := NewClient(nil, server.URL)
	err := client.DeleteSession(context.Background(), "sess-1")
	require.Error(t, err)
	assert.True(t, IsRejected(err))

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusForbidden, rejected.Status)
	assert.Equal(t, httpresp.ErrHostOnly, rejected.Message)
}

func TestClientTreatsServerErrorAsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(nil, server.URL)
	err := client.Get(context.Background(), BasePath+"/get", nil, nil)
	assert.True(t, IsTransient(err))
	assert.False(t, IsRejected(err))
}

func TestClientFailsOverToSecondEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	var goodHits atomic.Int32
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodHits.Add(1)
		_ = json.NewEncoder(w).Encode(domain.Session{ID: "sess-1"})
	}))
	defer good.Close()

	client := NewClient(nil, bad.URL, good.URL)
	// Whichever endpoint round-robin starts on, the request must land on the
	// healthy one within a single call.
	for i := 0; i < 2; i++ {
		session, err := client.GetSession(context.Background(), "sess-1")
		require.NoError(t, err)
		assert.Equal(t, "sess-1", session.ID)
	}
	assert.GreaterOrEqual(t, goodHits.Load(), int32(2))
}

func TestClientCoolsDownFailingEndpoint(t *testing.T) {
	t.Setenv("SESSIOND_FAIL_THRESHOLD", "1")
	t.Setenv("SESSIOND_COOLDOWN_MS", "60000")

	var badHits atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer good.Close()

	client := NewClient(nil, bad.URL, good.URL)
	for i := 0; i < 6; i++ {
		require.NoError(t, client.Get(context.Background(), "/health", nil, nil))
	}
	// One failure trips the cooldown, after which the bad endpoint is
	// skipped entirely for the cooldown window.
	assert.Equal(t, int32(1), badHits.Load())
}

func TestClientNoEndpointsIsTransient(t *testing.T) {
	client := NewClient(nil)
	err := client.Get(context.Background(), "/health", nil, nil)
	assert.True(t, IsTransient(err))
}

func TestFindAnnotationByKey(t *testing.T) {
	stored := domain.SessionAnnotation{ID: "ann-1", SessionID: "sess-1"}
	stored.Payload.Key = "local-key-1"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") == "local-key-1" {
			_ = json.NewEncoder(w).Encode(stored)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(httpresp.NewErrorResponse(httpresp.ErrAnnotationNotFound))
	}))
	defer server.Close()

	client := NewClient(nil, server.URL)

	got, found, err := client.FindAnnotationByKey(context.Background(), "sess-1", "local-key-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ann-1", got.ID)

	// A definitive miss is (not found, nil error), not an error.
	_, found, err = client.FindAnnotationByKey(context.Background(), "sess-1", "other-key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListAnnotationsSinceSendsWatermark(t *testing.T) {
	var gotAfter string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAfter = r.URL.Query().Get("created_after")
		_ = json.NewEncoder(w).Encode([]domain.SessionAnnotation{})
	}))
	defer server.Close()

	client := NewClient(nil, server.URL)

	_, err := client.ListAnnotationsSince(context.Background(), "sess-1", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, gotAfter, "zero watermark omits created_after")

	watermark := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC)
	_, err = client.ListAnnotationsSince(context.Background(), "sess-1", watermark)
	require.NoError(t, err)
	assert.Equal(t, watermark.Format(time.RFC3339Nano), gotAfter)
}
