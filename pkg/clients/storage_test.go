package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	uomerrors "github.com/sandboxfirst/uom/errors"
	"github.com/sandboxfirst/uom/pkg/breaker"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

func newTestStorageClient(qdrantURL, graphragURL string) *StorageClient {
	return &StorageClient{
		http:        newRetryableHTTPClient(0),
		qdrantURL:   qdrantURL,
		graphragURL: graphragURL,
		breakers: map[types.StorageSink]*breaker.Service{
			types.SinkQdrant:   testBreaker("qdrant"),
			types.SinkGraphRAG: testBreaker("graphrag"),
		},
	}
}

func TestStoreSucceedsAcrossAllSinks(t *testing.T) {
	qdrant := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer qdrant.Close()
	graphrag := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer graphrag.Close()

	c := newTestStorageClient(qdrant.URL, graphrag.URL)
	job := &types.Job{ID: "job-1", ProcessingResult: &types.ProcessingResult{Success: true}}
	decision := types.PostProcessDecision{StoreIn: []types.StorageSink{types.SinkQdrant, types.SinkGraphRAG}}

	err := c.Store(context.Background(), CallOptions{}, job, decision)
	require.NoError(t, err)
}

func TestStoreReportsPartialFailure(t *testing.T) {
	qdrant := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer qdrant.Close()
	graphrag := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }))
	defer graphrag.Close()

	c := newTestStorageClient(qdrant.URL, graphrag.URL)
	job := &types.Job{ID: "job-2", ProcessingResult: &types.ProcessingResult{Success: true}}
	decision := types.PostProcessDecision{StoreIn: []types.StorageSink{types.SinkQdrant, types.SinkGraphRAG}}

	err := c.Store(context.Background(), CallOptions{}, job, decision)
	require.Error(t, err)
	require.True(t, uomerrors.IsStoragePartial(err))

	var partialErr uomerrors.StoragePartialError
	require.ErrorAs(t, err, &partialErr)
	require.Equal(t, []string{"graphrag"}, partialErr.FailedSinks)
}
