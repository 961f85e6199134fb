package cache

import (
	"io/fs"
	"strconv"
	"strings"
	"time"
)

// Entry is the synthesised metadata of one listing entry. It implements fs.FileInfo.
type Entry struct {
	Basename    string    `json:"name"`
	Length      int64     `json:"size"`
	MTime       time.Time `json:"mtime"`
	Directory   bool      `json:"dir"`
	Count       int64     `json:"count"`
	Hash        string    `json:"hash,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
}

var _ fs.FileInfo = Entry{}

func (e Entry) Name() string       { return e.Basename }
func (e Entry) Size() int64        { return e.Length }
func (e Entry) ModTime() time.Time { return e.MTime }
func (e Entry) IsDir() bool        { return e.Directory }
func (e Entry) Sys() interface{}   { return nil }

// Mode reports fixed permission bits; the store has no notion of them.
func (e Entry) Mode() fs.FileMode {
	if e.Directory {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

const lastModifiedLayout = "2006-01-02T15:04:05"

// ParseLastModified parses a storage timestamp such as "2024-03-01T10:20:30.123456"
// as UTC. The fractional seconds are parsed on their own and added to the whole
// seconds. An empty or unparsable value yields now.
func ParseLastModified(value string, now time.Time) time.Time {
	value = strings.TrimSuffix(strings.TrimSpace(value), "Z")
	if value == "" {
		return now
	}

	whole, frac, _ := strings.Cut(value, ".")
	t, err := time.ParseInLocation(lastModifiedLayout, whole, time.UTC)
	if err != nil {
		return now
	}
	if frac == "" {
		return t
	}

	if len(frac) > 9 {
		frac = frac[:9]
	}
	frac += strings.Repeat("0", 9-len(frac))
	nanos, err := strconv.Atoi(frac)
	if err != nil {
		return t
	}
	return t.Add(time.Duration(nanos))
}
