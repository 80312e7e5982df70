package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func TestIsAuthorizedRejectsMissingKey(t *testing.T) {
	req, err := http.NewRequest("GET", "/v1/jobs/abc", nil)
	require.NoError(t, err)

	var nextCalled bool
	next := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) { nextCalled = true }

	rec := httptest.NewRecorder()
	IsAuthorized("secret", next)(rec, req, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, nextCalled)
}

func TestIsAuthorizedRejectsWrongKey(t *testing.T) {
	req, err := http.NewRequest("GET", "/v1/jobs/abc", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "wrong")

	var nextCalled bool
	next := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) { nextCalled = true }

	rec := httptest.NewRecorder()
	IsAuthorized("secret", next)(rec, req, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, nextCalled)
}

func TestIsAuthorizedAcceptsMatchingKey(t *testing.T) {
	req, err := http.NewRequest("GET", "/v1/jobs/abc", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")

	var nextCalled bool
	next := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) { nextCalled = true }

	rec := httptest.NewRecorder()
	IsAuthorized("secret", next)(rec, req, nil)

	require.True(t, nextCalled)
}

func TestIsAuthorizedDisabledWhenKeyEmpty(t *testing.T) {
	req, err := http.NewRequest("GET", "/v1/jobs/abc", nil)
	require.NoError(t, err)

	var nextCalled bool
	next := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) { nextCalled = true }

	rec := httptest.NewRecorder()
	IsAuthorized("", next)(rec, req, nil)

	require.True(t, nextCalled)
}
