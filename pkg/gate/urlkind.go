package gate

import (
	"net/url"
	"strings"
)

// URLKind is the classification an input URL falls into before the gate
// decides whether to short-circuit it to a specialized downstream service.
// Mirrors catalyst-api's own IsHLSInput-style predicate-over-net/url.URL
// approach - no pack repo ships a URL-classification library, this kind of
// routing decision is always hand-rolled where it appears.
type URLKind string

const (
	URLKindYouTube        URLKind = "youtube"
	URLKindGitHubRepo     URLKind = "github_repo"
	URLKindGoogleDrive    URLKind = "google_drive"
	URLKindDirectVideo    URLKind = "http_direct_video"
	URLKindDirectOther    URLKind = "http_direct_other"
	URLKindLocalFile      URLKind = "local_file"
	URLKindUnknown        URLKind = "unknown"
)

var directVideoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".avi": true,
	".webm": true, ".m3u8": true, ".ts": true,
}

// ClassifyURL buckets raw into one of the URLKind values. An empty raw is
// URLKindLocalFile, since local file uploads never carry a raw URL; one
// that does not parse, or lacks a scheme or host, is URLKindUnknown.
func ClassifyURL(raw string) URLKind {
	if raw == "" {
		return URLKindLocalFile
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return URLKindUnknown
	}

	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")

	switch {
	case isYouTubeHost(host):
		return URLKindYouTube
	case host == "github.com" && isRepoPath(u.Path):
		return URLKindGitHubRepo
	case host == "drive.google.com":
		return URLKindGoogleDrive
	case hasDirectVideoExtension(u.Path):
		return URLKindDirectVideo
	default:
		return URLKindDirectOther
	}
}

func isYouTubeHost(host string) bool {
	return host == "youtube.com" || host == "youtu.be" || host == "m.youtube.com"
}

// isRepoPath reports whether path looks like /owner/repo, as opposed to a
// github.com URL pointing at a gist, an org page, or a raw file.
func isRepoPath(path string) bool {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	return len(segments) == 2 && segments[0] != "" && segments[1] != ""
}

func hasDirectVideoExtension(path string) bool {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return false
	}
	return directVideoExtensions[strings.ToLower(path[idx:])]
}

// IsGitHubRepoURL is the predicate the processing-route fallback (and the
// LLM prompt) needs to decide whether a submission should be routed to
// GitHubManager.
func IsGitHubRepoURL(raw string) bool {
	return ClassifyURL(raw) == URLKindGitHubRepo
}
