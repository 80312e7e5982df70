package gate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectMimeTypeRecognizesPNG(t *testing.T) {
	pngHeader := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	require.Equal(t, "image/png", DetectMimeType(pngHeader))
}

func TestDetectMimeTypeFallsBackToOctetStreamOnUnrecognized(t *testing.T) {
	require.Equal(t, defaultMimeType, DetectMimeType([]byte("not a real file signature")))
}

func TestIsSuspiciousByExtension(t *testing.T) {
	require.True(t, IsSuspicious("installer.exe", "application/octet-stream"))
	require.False(t, IsSuspicious("report.pdf", "application/pdf"))
}

func TestIsSuspiciousByMimeType(t *testing.T) {
	require.True(t, IsSuspicious("unnamed", "application/x-msdownload"))
}
