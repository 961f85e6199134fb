package cache

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/objectfs/objectftp/internal/objectstore"
	"github.com/objectfs/objectftp/pkg/errors"
	"github.com/objectfs/objectftp/pkg/utils"
)

const (
	// DefaultListingTTL bounds how long a listing is served without refetching.
	DefaultListingTTL = 10 * time.Second

	// DefaultCompressThreshold is the encoded size above which shared-tier
	// listings are compressed.
	DefaultCompressThreshold = 4096
)

// Recorder receives cache hit and miss events; *metrics.Collector implements it.
type Recorder interface {
	RecordCacheRequest(tier string, hit bool)
}

// DirCacheConfig configures a DirCache.
type DirCacheConfig struct {
	// AuthEndpoint and User scope shared-tier keys to one account.
	AuthEndpoint string
	User         string

	TTL               time.Duration
	CompressThreshold int

	Logger  *slog.Logger
	Metrics Recorder
	Now     func() time.Time
}

// DirCache caches the listing of one directory at a time and answers stat and
// listdir from it. A DirCache belongs to one session and is not safe for
// concurrent use; the optional shared tier is what sessions have in common.
type DirCache struct {
	store  objectstore.Store
	shared SharedTier
	cfg    DirCacheConfig
	logger *slog.Logger

	path     string
	entries  map[string]Entry
	captured time.Time
}

// NewDirCache creates a directory cache over store. shared may be nil.
func NewDirCache(store objectstore.Store, shared SharedTier, cfg DirCacheConfig) *DirCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultListingTTL
	}
	if cfg.CompressThreshold == 0 {
		cfg.CompressThreshold = DefaultCompressThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DirCache{
		store:  store,
		shared: shared,
		cfg:    cfg,
		logger: logger.With("component", "dircache", "user", cfg.User),
	}
}

// ListDir returns the sorted entry names of the directory at p.
func (c *DirCache) ListDir(ctx context.Context, p string) ([]string, error) {
	entries, err := c.load(ctx, p)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ListDirWithStat returns the entries of the directory at p sorted by name.
func (c *DirCache) ListDirWithStat(ctx context.Context, p string) ([]Entry, error) {
	entries, err := c.load(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Basename < out[j].Basename })
	return out, nil
}

// Stat returns the metadata of p, looked up in the listing of its parent.
func (c *DirCache) Stat(ctx context.Context, p string) (Entry, error) {
	if p == "/" {
		entries, err := c.load(ctx, "/")
		if err != nil {
			return Entry{}, err
		}
		root := Entry{Basename: "/", Directory: true, MTime: c.cfg.Now(), Count: int64(len(entries))}
		for _, e := range entries {
			root.Length += e.Length
		}
		return root, nil
	}

	dir, leaf := utils.SplitPath(p)
	entries, err := c.load(ctx, dir)
	if err != nil {
		return Entry{}, err
	}
	if e, ok := entries[leaf]; ok {
		return e, nil
	}

	// Accounts restricted by ACLs may not list the root but can still use a
	// container they know the name of.
	if dir == "/" {
		info, err := c.store.HeadContainer(ctx, leaf)
		if err == nil {
			return c.containerEntry(info), nil
		}
		c.logger.Debug("container fallback failed", "container", leaf, "error", err)
	}
	return Entry{}, errors.NotFound("No such file or directory").WithOperation("stat").WithPath(p)
}

// Flush invalidates the local listing and removes the shared-tier copy of p, so
// every session refetches it. An empty p flushes whatever is cached locally.
func (c *DirCache) Flush(ctx context.Context, p string) {
	if p == "" {
		p = c.path
	}
	c.entries = nil
	c.path = ""

	if c.shared == nil || p == "" {
		return
	}
	if err := c.shared.Delete(ctx, c.key(p)); err != nil {
		c.logger.Warn("failed to flush shared listing", "path", p, "error", err)
	}
}

func (c *DirCache) key(p string) string {
	return ListingKey(c.cfg.AuthEndpoint, c.cfg.User, p)
}

func (c *DirCache) record(tier string, hit bool) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordCacheRequest(tier, hit)
	}
}

// load returns the listing of p from the local cache, the shared tier or the
// store, in that order, keeping both tiers populated.
func (c *DirCache) load(ctx context.Context, p string) (map[string]Entry, error) {
	now := c.cfg.Now()
	if c.entries != nil && c.path == p && now.Sub(c.captured) < c.cfg.TTL {
		c.record("local", true)
		return c.entries, nil
	}
	c.record("local", false)

	if c.shared != nil {
		if entries, ok := c.loadShared(ctx, p); ok {
			c.path, c.entries, c.captured = p, entries, now
			return entries, nil
		}
	}

	entries, err := c.fetch(ctx, p)
	if err != nil {
		return nil, err
	}
	c.path, c.entries, c.captured = p, entries, now

	if c.shared != nil {
		c.storeShared(ctx, p, entries)
	}
	return entries, nil
}

func (c *DirCache) loadShared(ctx context.Context, p string) (map[string]Entry, bool) {
	data, found, err := c.shared.Get(ctx, c.key(p))
	if err != nil {
		c.logger.Warn("shared listing lookup failed", "path", p, "error", err)
		return nil, false
	}
	c.record("shared", found)
	if !found {
		return nil, false
	}
	var entries map[string]Entry
	if err := DecodeValue(data, &entries); err != nil {
		c.logger.Warn("discarding undecodable shared listing", "path", p, "error", err)
		return nil, false
	}
	if entries == nil {
		entries = make(map[string]Entry)
	}
	c.logger.Debug("shared listing hit", "path", p, "entries", len(entries))
	return entries, true
}

func (c *DirCache) storeShared(ctx context.Context, p string, entries map[string]Entry) {
	data, err := EncodeValue(entries, c.cfg.CompressThreshold)
	if err != nil {
		c.logger.Warn("failed to encode listing", "path", p, "error", err)
		return
	}
	if err := c.shared.Set(ctx, c.key(p), data, c.cfg.TTL); err != nil {
		c.logger.Warn("failed to store shared listing", "path", p, "error", err)
	}
}

func (c *DirCache) fetch(ctx context.Context, p string) (map[string]Entry, error) {
	container, key, err := utils.ParseFSPath(p)
	if err != nil {
		return nil, err
	}
	if container == "" {
		return c.listRoot(ctx)
	}
	return c.listContainer(ctx, container, key, p)
}

func (c *DirCache) listRoot(ctx context.Context) (map[string]Entry, error) {
	containers, err := c.store.ListContainers(ctx)
	if err != nil {
		err = errors.Translate(err, "listdir", "/")
		if errors.Is(err, errors.ErrPermissionDenied) {
			c.logger.Debug("account root not listable", "error", err)
			return map[string]Entry{}, nil
		}
		return nil, err
	}

	entries := make(map[string]Entry, len(containers))
	for _, info := range containers {
		entries[info.Name] = c.containerEntry(info)
	}
	return entries, nil
}

func (c *DirCache) containerEntry(info objectstore.ContainerInfo) Entry {
	return Entry{
		Basename:  info.Name,
		Directory: true,
		Length:    info.Bytes,
		Count:     info.Count,
		MTime:     c.cfg.Now(),
	}
}

func (c *DirCache) listContainer(ctx context.Context, container, key, p string) (map[string]Entry, error) {
	prefix := ""
	if key != "" {
		prefix = strings.TrimRight(key, "/") + "/"
	}

	entries := make(map[string]Entry)
	marker := ""
	for {
		page, err := c.store.ListObjects(ctx, container, objectstore.ListOptions{
			Prefix:    prefix,
			Delimiter: objectstore.Delimiter,
			Marker:    marker,
			Limit:     objectstore.ListLimit,
		})
		if err != nil {
			return nil, errors.Translate(err, "listdir", p)
		}
		for _, obj := range page {
			e := c.objectEntry(ctx, container, obj)
			if e.Basename == "" {
				continue
			}
			entries[e.Basename] = e
		}
		if len(page) < objectstore.ListLimit {
			break
		}
		marker = page[len(page)-1].Name
	}

	c.logger.Debug("listed directory", "path", p, "entries", len(entries))
	return entries, nil
}

func (c *DirCache) objectEntry(ctx context.Context, container string, obj objectstore.ObjectInfo) Entry {
	now := c.cfg.Now()
	if obj.SubDir {
		return Entry{
			Basename:  path.Base(strings.TrimRight(obj.Name, "/")),
			Directory: true,
			Count:     1,
			MTime:     now,
		}
	}

	e := Entry{
		Basename:    path.Base(obj.Name),
		Length:      obj.Bytes,
		MTime:       ParseLastModified(obj.LastModified, now),
		Directory:   obj.ContentType == objectstore.DirectoryContentType,
		Count:       1,
		Hash:        obj.Hash,
		ContentType: obj.ContentType,
	}

	// An empty object with a hash may be the head of a large object.
	if !obj.Headed && obj.Bytes == 0 && obj.Hash != "" && !e.Directory {
		info, err := c.store.HeadObject(ctx, container, obj.Name)
		switch {
		case err != nil:
			c.logger.Debug("manifest probe failed", "container", container, "object", obj.Name, "error", err)
		case info.Manifest != "":
			e.Length = info.Bytes
			e.Hash = info.Hash
		}
	}
	return e
}
