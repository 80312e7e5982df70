package gate

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractZipMembers(t *testing.T) {
	body := buildTestZip(t, map[string]string{
		"a.pdf": "pdf-one",
		"b.pdf": "pdf-two",
	})

	members, err := extractArchiveMembers("bundle.zip", body)
	require.NoError(t, err)
	require.Len(t, members, 2)

	names := map[string]string{}
	for _, m := range members {
		names[m.name] = string(m.body)
	}
	require.Equal(t, "pdf-one", names["a.pdf"])
	require.Equal(t, "pdf-two", names["b.pdf"])
}

func TestExtractArchiveMembersUnsupportedExtension(t *testing.T) {
	_, err := extractArchiveMembers("data.rar", []byte("whatever"))
	require.Error(t, err)
}

func TestChildFileContextCarriesBodyInline(t *testing.T) {
	m := archiveMember{name: "nested/report.pdf", body: []byte("%PDF-1.4 fake")}
	fc := childFileContext(m)

	require.Equal(t, "report.pdf", fc.Filename)
	require.Equal(t, int64(len(m.body)), fc.FileSize)
	require.Equal(t, m.body, fc.InlineBuffer)
}
