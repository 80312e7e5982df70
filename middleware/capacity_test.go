package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type stubJobCounter struct {
	count atomic.Int64
}

func (s *stubJobCounter) InFlightCount() int {
	return int(s.count.Load())
}

func TestItCallsNextMiddlewareWhenCapacityAvailable(t *testing.T) {
	req, err := http.NewRequest("POST", "/v1/process/sandbox-first", nil)
	require.NoError(t, err)

	var nextCalled bool
	next := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		nextCalled = true
	}

	cm := CapacityMiddleware{MaxConcurrentJobs: 2}
	jobs := &stubJobCounter{}
	handler := cm.HasCapacity(jobs, next)
	responseRecorder := httptest.NewRecorder()

	handler(responseRecorder, req, nil)
	require.Equal(t, http.StatusOK, responseRecorder.Code)
	require.True(t, nextCalled)
}

func TestItErrorsWhenNoJobCapacityAvailable(t *testing.T) {
	req, err := http.NewRequest("POST", "/v1/process/sandbox-first", nil)
	require.NoError(t, err)

	var nextCalled bool
	next := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		nextCalled = true
	}

	cm := CapacityMiddleware{MaxConcurrentJobs: 2}
	jobs := &stubJobCounter{}
	jobs.count.Store(2)
	handler := cm.HasCapacity(jobs, next)
	responseRecorder := httptest.NewRecorder()

	handler(responseRecorder, req, nil)
	require.Equal(t, http.StatusTooManyRequests, responseRecorder.Code)
	require.False(t, nextCalled)
}

func TestZeroMaxConcurrentJobsMeansUnbounded(t *testing.T) {
	req, err := http.NewRequest("POST", "/v1/process/sandbox-first", nil)
	require.NoError(t, err)

	var nextCalled bool
	next := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		nextCalled = true
	}

	cm := CapacityMiddleware{}
	jobs := &stubJobCounter{}
	jobs.count.Store(10000)
	handler := cm.HasCapacity(jobs, next)
	responseRecorder := httptest.NewRecorder()

	handler(responseRecorder, req, nil)
	require.Equal(t, http.StatusOK, responseRecorder.Code)
	require.True(t, nextCalled)
}

// As well as looking at jobs in progress, we should also take into account
// in-flight HTTP requests to avoid the race condition where we get a lot of
// requests at once and let them all through
func TestItTakesIntoAccountInFlightHTTPRequests(t *testing.T) {
	jobs := &stubJobCounter{}
	jobs.count.Store(1)

	next := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		time.Sleep(50 * time.Millisecond)
	}

	cm := CapacityMiddleware{MaxConcurrentJobs: 2}
	handler := cm.HasCapacity(jobs, next)

	timeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g, _ := errgroup.WithContext(timeout)
	responseCodes := make([]int, 10)
	for i := 0; i < 10; i++ {
		i := i
		g.Go(func() error {
			req, err := http.NewRequest("POST", "/v1/process/sandbox-first", nil)
			require.NoError(t, err)
			responseRecorder := httptest.NewRecorder()
			handler(responseRecorder, req, nil)
			responseCodes[i] = responseRecorder.Code
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var acceptedCount int
	for _, code := range responseCodes {
		if code == http.StatusOK {
			acceptedCount++
		}
	}
	require.Equal(t, 1, acceptedCount)
}
