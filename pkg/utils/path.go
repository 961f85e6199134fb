package utils

import (
	"path"
	"strings"

	"github.com/objectfs/objectftp/pkg/errors"
)

// ParseFSPath splits an absolute virtual path into its container and object key.
// The first segment is the container; everything after it, including further
// slashes, is the key. Both are empty for the root. A trailing slash is dropped.
//
//	ParseFSPath("/")            // "", ""
//	ParseFSPath("/photos")      // "photos", ""
//	ParseFSPath("/photos/a/b")  // "photos", "a/b"
func ParseFSPath(p string) (container, key string, err error) {
	if !path.IsAbs(p) {
		return "", "", errors.InvalidPath("Absolute path needed").WithPath(p)
	}
	rest := strings.TrimRight(p[1:], "/")
	container, key, _ = strings.Cut(rest, "/")
	return container, key, nil
}

// JoinFSPath is the inverse of ParseFSPath.
func JoinFSPath(container, key string) string {
	switch {
	case container == "":
		return "/"
	case key == "":
		return "/" + container
	default:
		return "/" + container + "/" + key
	}
}

// NormalizePath resolves p against cwd and cleans "." and ".." elements. The
// result is always absolute and never escapes the root.
func NormalizePath(cwd, p string) string {
	if p == "" {
		p = "."
	}
	if !path.IsAbs(p) {
		if cwd == "" {
			cwd = "/"
		}
		p = path.Join(cwd, p)
	}
	return path.Clean("/" + p)
}

// SplitPath returns the parent directory and the base name of a clean absolute path.
// The root splits into ("/", "").
func SplitPath(p string) (dir, name string) {
	if p == "/" || p == "" {
		return "/", ""
	}
	p = strings.TrimRight(p, "/")
	dir, name = path.Split(p)
	if dir != "/" {
		dir = strings.TrimRight(dir, "/")
	}
	return dir, name
}
