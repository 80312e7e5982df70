package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/sandboxfirst/uom/pkg/orchestrator"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

func TestStreamReturns404ForUnknownJob(t *testing.T) {
	h := NewHandlersCollection(&fakeDispatcher{}, &fakeJobStore{views: map[string]orchestrator.JobView{}}, "")
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/missing/stream", nil)
	rec := httptest.NewRecorder()

	h.Stream()(rec, req, httprouter.Params{{Key: "jobId", Value: "missing"}})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamWritesImmediateSnapshotForAlreadyTerminalJob(t *testing.T) {
	store := &fakeJobStore{views: map[string]orchestrator.JobView{
		"job-1": {ID: "job-1", Status: types.StatusCompleted, Progress: 100},
	}}
	h := NewHandlersCollection(&fakeDispatcher{}, store, "")
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/stream", nil)
	rec := httptest.NewRecorder()

	h.Stream()(rec, req, httprouter.Params{{Key: "jobId", Value: "job-1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "event: status")
}

func TestStreamEndsAfterTerminalEvent(t *testing.T) {
	store := &fakeJobStore{
		views: map[string]orchestrator.JobView{
			"job-1": {ID: "job-1", Status: types.StatusProcessing, Progress: 70},
		},
		ch: make(chan orchestrator.Event, 1),
	}
	h := NewHandlersCollection(&fakeDispatcher{}, store, "")
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/stream", nil)
	rec := httptest.NewRecorder()

	store.ch <- orchestrator.Event{Type: orchestrator.EventComplete, JobID: "job-1", Data: "done"}

	h.Stream()(rec, req, httprouter.Params{{Key: "jobId", Value: "job-1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "event: complete"))
}
