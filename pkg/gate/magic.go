package gate

import (
	filetype "gopkg.in/h2non/filetype.v1"
)

// defaultMimeType is used when magic-byte inspection can't identify the
// buffer - spec.md §3 requires mimeType to be magic-byte-derived, but an
// unrecognized format still has to carry some value through the pipeline.
const defaultMimeType = "application/octet-stream"

// DetectMimeType inspects head (the first bytes of an uploaded file are
// enough - filetype.Match never needs the full body) and returns the
// magic-byte-derived MIME type. The client-declared MIME type is advisory
// only and is never trusted over this.
func DetectMimeType(head []byte) string {
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return defaultMimeType
	}
	return kind.MIME.Value
}

// IsSuspicious flags a file as suspicious when its magic-byte MIME type or
// filename extension names a known binary format - the same known-binary
// set the triage fallback uses, so "suspicious" at the gate and "tier3
// binary" at Stage 1 never disagree.
func IsSuspicious(filename, detectedMimeType string) bool {
	if isKnownBinaryMimeType(detectedMimeType) {
		return true
	}
	return isKnownBinaryExtensionFilename(filename)
}
