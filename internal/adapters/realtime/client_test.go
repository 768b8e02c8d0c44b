package realtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/token", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"client_secret":{"value":"ek_123","expires_at":1700000000}}`)
	}))
	defer srv.Close()

	cred, err := NewTokenClient(srv.URL+"/token", WithHTTPClient(srv.Client())).FetchCredential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ek_123", cred.Value)
	assert.Equal(t, time.Unix(1700000000, 0), cred.ExpiresAt)
}

func TestFetchCredentialFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "missing secret",
			status: http.StatusOK,
			body:   `{}`,
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, ErrEmptyCredential) },
		},
		{
			name:   "empty value",
			status: http.StatusOK,
			body:   `{"client_secret":{"value":""}}`,
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, ErrEmptyCredential) },
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   `upstream down`,
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusBadGateway, se.Status)
				assert.Equal(t, "upstream down", se.Body)
			},
		},
		{
			name:   "bad json",
			status: http.StatusOK,
			body:   `{"client_secret":`,
			check:  func(t *testing.T, err error) { require.ErrorContains(t, err, "decode token response") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewTokenClient(srv.URL).FetchCredential(context.Background())
			tt.check(t, err)
		})
	}
}

func TestExchangePostsOffer(t *testing.T) {
	const answer = "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/realtime", r.URL.Path)
		assert.Equal(t, "test-model", r.URL.Query().Get("model"))
		assert.Equal(t, "Bearer ek_abc", r.Header.Get("Authorization"))
		assert.Equal(t, "application/sdp", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "v=0\r\noffer\r\n", string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, answer)
	}))
	defer srv.Close()

	c := NewSDPClient(srv.URL+"/v1/realtime", "test-model")
	got, err := c.Exchange(context.Background(), core.Credential{Value: "ek_abc"}, "v=0\r\noffer\r\n")
	require.NoError(t, err)
	assert.Equal(t, answer, got)
}

func TestExchangeRejectsNonDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":"nope"}`)
	}))
	defer srv.Close()

	_, err := NewSDPClient(srv.URL, "m").Exchange(context.Background(), core.Credential{Value: "x"}, "v=0")
	require.ErrorIs(t, err, ErrNotDescription)
}

func TestExchangeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewSDPClient(srv.URL, "m").Exchange(context.Background(), core.Credential{Value: "x"}, "v=0")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "sdp", se.Op)
	assert.Equal(t, http.StatusUnauthorized, se.Status)
}

func TestStatusErrorBodyCutOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", 199) + strings.Repeat("é", 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, body, http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewSDPClient(srv.URL, "m").Exchange(context.Background(), core.Credential{Value: "x"}, "v=0")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, utf8.ValidString(se.Body))
	assert.Equal(t, strings.Repeat("a", 199)+"...", se.Body)
}

func TestExchangeHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewSDPClient(srv.URL, "m").Exchange(ctx, core.Credential{Value: "x"}, "v=0")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewSDPClientDefaults(t *testing.T) {
	c := NewSDPClient("", "")
	endpoint, err := c.endpoint()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL+"?model="+DefaultModel, endpoint)
}
