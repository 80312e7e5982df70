package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsObjectNotFound(t *testing.T) {
	err := NewObjectNotFoundError("foo", fmt.Errorf("bar"))
	require.True(t, IsObjectNotFound(err))
	require.True(t, IsUnretriable(err))
}

func TestUnretriable(t *testing.T) {
	err := Unretriable(fmt.Errorf("bar"))
	require.True(t, IsUnretriable(err))
}

func TestBreakerOpen(t *testing.T) {
	err := NewBreakerOpenError("cyberagent")
	require.True(t, IsBreakerOpen(err))
	require.False(t, IsUnretriable(err))
	require.Contains(t, err.Error(), "cyberagent")
}

func TestTimeout(t *testing.T) {
	err := NewTimeoutError("sandbox_running")
	require.True(t, IsTimeout(err))
	require.Contains(t, err.Error(), "sandbox_running")
}

func TestGatedBlockIsUnretriable(t *testing.T) {
	err := NewGatedBlockError("known malicious hash")
	require.True(t, IsGatedBlock(err))
	require.True(t, IsUnretriable(err))
}

func TestReviewRequired(t *testing.T) {
	err := NewReviewRequiredError("policy ambiguous")
	require.True(t, IsReviewRequired(err))
	require.False(t, IsUnretriable(err))
}

func TestStoragePartial(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewStoragePartialError([]string{"qdrant", "graphrag"}, cause)
	require.True(t, IsStoragePartial(err))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "qdrant")
}
