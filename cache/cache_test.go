package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testEntry struct {
	CallbackURL string
}

func TestStoreAndRetrieve(t *testing.T) {
	c := New[testEntry]()
	c.Store(
		"some-key",
		testEntry{
			CallbackURL: "http://some-callback-url.com",
		},
	)
	require.Equal(t, "http://some-callback-url.com", c.Get("some-key").CallbackURL)
}

func TestGetOKDistinguishesMissFromZeroValue(t *testing.T) {
	c := New[testEntry]()
	_, ok := c.GetOK("missing")
	require.False(t, ok)

	c.Store("present", testEntry{})
	v, ok := c.GetOK("present")
	require.True(t, ok)
	require.Equal(t, testEntry{}, v)
}

func TestStoreAndRemove(t *testing.T) {
	c := New[testEntry]()
	c.Store(
		"some-key",
		testEntry{
			CallbackURL: "http://some-callback-url.com",
		},
	)
	require.Equal(t, "http://some-callback-url.com", c.Get("some-key").CallbackURL)

	c.Remove("request-id", "some-key")
	require.Equal(t, "", c.Get("some-key").CallbackURL)
}

func TestLenAndRange(t *testing.T) {
	c := New[testEntry]()
	c.Store("a", testEntry{CallbackURL: "a"})
	c.Store("b", testEntry{CallbackURL: "b"})
	require.Equal(t, 2, c.Len())

	seen := map[string]string{}
	c.Range(func(key string, value testEntry) bool {
		seen[key] = value.CallbackURL
		return true
	})
	require.Equal(t, map[string]string{"a": "a", "b": "b"}, seen)
}
