package gate

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/sandboxfirst/uom/config"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// archiveMember is one file extracted from an archive upload, ready to
// become its own child FileContext.
type archiveMember struct {
	name string
	body []byte
}

// extractArchiveMembers enumerates an archive's member files. Only
// enumeration and extraction are in scope here - spec.md §1 explicitly
// places archive-content *analysis* algorithms out of scope, so this stops
// at "names, sizes, bytes", the same fan-out input every downstream
// service call in this package needs.
func extractArchiveMembers(filename string, body []byte) ([]archiveMember, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".zip":
		return extractZipMembers(body)
	case ".tar":
		return extractTarMembers(bytes.NewReader(body))
	case ".tgz":
		return extractTarGzMembers(body)
	case ".gz":
		if strings.HasSuffix(strings.ToLower(filename), ".tar.gz") {
			return extractTarGzMembers(body)
		}
		return nil, fmt.Errorf("bare .gz is not a multi-member archive")
	default:
		return nil, fmt.Errorf("unsupported archive extension for %q", filename)
	}
}

func extractZipMembers(body []byte) ([]archiveMember, error) {
	r, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("opening zip archive: %w", err)
	}

	var members []archiveMember
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if len(members) >= config.MaxArchiveMembers {
			return nil, fmt.Errorf("archive exceeds %d member limit", config.MaxArchiveMembers)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening zip member %q: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading zip member %q: %w", f.Name, err)
		}

		members = append(members, archiveMember{name: f.Name, body: data})
	}
	return members, nil
}

func extractTarGzMembers(body []byte) ([]archiveMember, error) {
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()
	return extractTarMembers(gz)
}

func extractTarMembers(r io.Reader) ([]archiveMember, error) {
	tr := tar.NewReader(r)

	var members []archiveMember
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if len(members) >= config.MaxArchiveMembers {
			return nil, fmt.Errorf("archive exceeds %d member limit", config.MaxArchiveMembers)
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading tar member %q: %w", hdr.Name, err)
		}
		members = append(members, archiveMember{name: hdr.Name, body: data})
	}
	return members, nil
}

// childFileContext builds the FileContext for one archive member, carrying
// its body inline since archive members are extracted in-process and
// never touch object storage.
func childFileContext(m archiveMember) types.FileContext {
	return types.FileContext{
		Filename:     filepath.Base(m.name),
		MimeType:     DetectMimeType(m.body),
		FileSize:     int64(len(m.body)),
		InlineBuffer: m.body,
	}
}
