package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthaha/emseepee/internal/domain"
	"github.com/sthaha/emseepee/internal/log"
)

func TestHTTPRefresherExchangesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
		assert.Equal(t, "client-id", r.Form.Get("client_id"))
		assert.Equal(t, "client-secret", r.Form.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"access-new","expires_in":3600}`))
	}))
	defer srv.Close()

	ref := NewHTTPRefresher(srv.URL, "client-id", "client-secret", log.NullLogger())

	before := time.Now()
	cred, err := ref.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)

	assert.Equal(t, "access-new", cred.AccessToken)
	assert.Empty(t, cred.RefreshToken)
	assert.WithinDuration(t, before.Add(time.Hour), cred.Expiry, 10*time.Second)
}

func TestHTTPRefresherRotatedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"a","refresh_token":"refresh-rotated","expires_in":60}`))
	}))
	defer srv.Close()

	ref := NewHTTPRefresher(srv.URL, "id", "secret", log.NullLogger())
	cred, err := ref.Refresh(context.Background(), "refresh-old")
	require.NoError(t, err)
	assert.Equal(t, "refresh-rotated", cred.RefreshToken)
}

func TestHTTPRefresherRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	ref := NewHTTPRefresher(srv.URL, "id", "secret", log.NullLogger())
	_, err := ref.Refresh(context.Background(), "refresh-1")
	assert.ErrorIs(t, err, domain.ErrAuthFailed)
}

func TestHTTPRefresherUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // Deliberately unreachable

	ref := NewHTTPRefresher(srv.URL, "id", "secret", log.NullLogger())
	_, err := ref.Refresh(context.Background(), "refresh-1")
	assert.ErrorIs(t, err, domain.ErrServerUnreachable)
}

func TestHTTPRefresherMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"expires_in":3600}`))
	}))
	defer srv.Close()

	ref := NewHTTPRefresher(srv.URL, "id", "secret", log.NullLogger())
	_, err := ref.Refresh(context.Background(), "refresh-1")
	assert.ErrorIs(t, err, domain.ErrAuthFailed)
}
