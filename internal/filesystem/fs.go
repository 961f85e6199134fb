package filesystem

import (
	"context"
	"log/slog"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/objectfs/objectftp/internal/cache"
	"github.com/objectfs/objectftp/internal/objectstore"
	"github.com/objectfs/objectftp/pkg/errors"
	"github.com/objectfs/objectftp/pkg/utils"
)

// Options configures an FS.
type Options struct {
	// SplitSize is the part size of large-object uploads; zero disables splitting.
	SplitSize int64

	Logger  *slog.Logger
	Metrics Metrics
}

// FS is one session's view of an object-storage account.
type FS struct {
	store   objectstore.Store
	dirs    *cache.DirCache
	opts    Options
	logger  *slog.Logger
	metrics Metrics
	cwd     string
}

var _ Filesystem = (*FS)(nil)

// New creates a filesystem over store answering metadata queries from dirs.
func New(store objectstore.Store, dirs *cache.DirCache, opts Options) *FS {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FS{
		store:   store,
		dirs:    dirs,
		opts:    opts,
		logger:  logger.With("component", "filesystem"),
		metrics: opts.Metrics,
		cwd:     "/",
	}
}

func (f *FS) observe(op string, start time.Time, err *error) {
	if f.metrics != nil {
		f.metrics.RecordOperation(op, time.Since(start), *err)
	}
}

// Abspath resolves p against the current directory and cleans it.
func (f *FS) Abspath(p string) string {
	return utils.NormalizePath(f.cwd, p)
}

// Normpath cleans p without resolving it against the current directory.
func (f *FS) Normpath(p string) string {
	return path.Clean(p)
}

// Realpath is Abspath; the store has no links to resolve.
func (f *FS) Realpath(p string) string {
	return f.Abspath(p)
}

// IsAbs reports whether p is absolute.
func (f *FS) IsAbs(p string) bool {
	return path.IsAbs(p)
}

func (f *FS) resolve(p string) (abs, container, key string, err error) {
	abs = f.Abspath(p)
	container, key, err = utils.ParseFSPath(abs)
	return abs, container, key, err
}

func parentOf(p string) string {
	dir, _ := utils.SplitPath(p)
	return dir
}

// Stat returns the metadata of p.
func (f *FS) Stat(ctx context.Context, p string) (e cache.Entry, err error) {
	defer f.observe("stat", time.Now(), &err)
	abs := f.Abspath(p)
	f.logger.Debug("stat", "path", abs)
	return f.dirs.Stat(ctx, abs)
}

// ListDir returns the sorted names in the directory p.
func (f *FS) ListDir(ctx context.Context, p string) (names []string, err error) {
	defer f.observe("listdir", time.Now(), &err)
	abs := f.Abspath(p)
	f.logger.Debug("listdir", "path", abs)
	return f.dirs.ListDir(ctx, abs)
}

// ListDirWithStat returns the entries of the directory p in name order.
func (f *FS) ListDirWithStat(ctx context.Context, p string) (entries []cache.Entry, err error) {
	defer f.observe("listdir", time.Now(), &err)
	abs := f.Abspath(p)
	f.logger.Debug("listdir_with_stat", "path", abs)
	return f.dirs.ListDirWithStat(ctx, abs)
}

// IsDir reports whether p is a directory; lookup failures read as false.
func (f *FS) IsDir(ctx context.Context, p string) bool {
	e, err := f.Stat(ctx, p)
	return err == nil && e.IsDir()
}

// IsFile reports whether p is a regular file; lookup failures read as false.
func (f *FS) IsFile(ctx context.Context, p string) bool {
	e, err := f.Stat(ctx, p)
	return err == nil && !e.IsDir()
}

// Exists reports whether p exists.
func (f *FS) Exists(ctx context.Context, p string) bool {
	_, err := f.Stat(ctx, p)
	return err == nil
}

// Lexists is Exists; there are no links.
func (f *FS) Lexists(ctx context.Context, p string) bool {
	return f.Exists(ctx, p)
}

// GetSize returns the size of p.
func (f *FS) GetSize(ctx context.Context, p string) (int64, error) {
	e, err := f.Stat(ctx, p)
	if err != nil {
		return 0, err
	}
	return e.Size(), nil
}

// GetMtime returns the modification time of p.
func (f *FS) GetMtime(ctx context.Context, p string) (time.Time, error) {
	e, err := f.Stat(ctx, p)
	if err != nil {
		return time.Time{}, err
	}
	return e.ModTime(), nil
}

// Getcwd returns the current directory.
func (f *FS) Getcwd() string {
	return f.cwd
}

// Chdir changes the current directory to p, which must be an existing directory.
func (f *FS) Chdir(ctx context.Context, p string) (err error) {
	defer f.observe("chdir", time.Now(), &err)
	abs := f.Abspath(p)
	if abs == "/" {
		f.cwd = abs
		return nil
	}
	e, err := f.dirs.Stat(ctx, abs)
	if err != nil {
		return errors.NotFound("Failed to change directory.").WithOperation("chdir").WithPath(abs).WithCause(err)
	}
	if !e.IsDir() {
		return errors.NotDirectory("Can't cd to a file").WithOperation("chdir").WithPath(abs)
	}
	f.cwd = abs
	return nil
}

func (f *FS) containerExists(ctx context.Context, container, abs string) error {
	if _, err := f.store.HeadContainer(ctx, container); err != nil {
		if objectstore.IsNotFound(err) {
			return errors.NotDirectory("Container not found").WithPath(abs).WithCause(err)
		}
		return errors.Translate(err, "head_container", abs)
	}
	return nil
}

// Mkdir creates a container at the top level, or a directory marker object below it.
func (f *FS) Mkdir(ctx context.Context, p string) (err error) {
	defer f.observe("mkdir", time.Now(), &err)
	abs, container, key, err := f.resolve(p)
	if err != nil {
		return err
	}
	f.logger.Debug("mkdir", "path", abs)

	switch {
	case container == "":
		return errors.PermissionDenied("Can't create the root").WithErrno(syscall.EPERM).WithOperation("mkdir").WithPath(abs)
	case key == "":
		f.dirs.Flush(ctx, "/")
		return errors.Translate(f.store.CreateContainer(ctx, container), "mkdir", abs)
	}

	f.dirs.Flush(ctx, parentOf(abs))
	if err := f.containerExists(ctx, container, abs); err != nil {
		return err
	}
	w, err := f.store.CreateObject(ctx, container, key, objectstore.DirectoryContentType)
	if err != nil {
		return errors.Translate(err, "mkdir", abs)
	}
	return errors.Translate(w.Close(), "mkdir", abs)
}

// Rmdir removes the empty directory p.
func (f *FS) Rmdir(ctx context.Context, p string) (err error) {
	defer f.observe("rmdir", time.Now(), &err)
	abs, container, key, err := f.resolve(p)
	if err != nil {
		return err
	}
	f.logger.Debug("rmdir", "path", abs)

	if !f.IsDir(ctx, abs) {
		if f.IsFile(ctx, abs) {
			return errors.NotDirectory("Not a directory").WithOperation("rmdir").WithPath(abs)
		}
		return errors.NotFound("No such file or directory").WithOperation("rmdir").WithPath(abs)
	}
	names, err := f.ListDir(ctx, abs)
	if err != nil {
		return err
	}
	if len(names) > 0 {
		return errors.NotEmpty("Directory not empty: %s", abs).WithOperation("rmdir").WithPath(abs)
	}

	switch {
	case container == "":
		return errors.PermissionDenied("Can't remove the root").WithOperation("rmdir").WithPath(abs)
	case key == "":
		f.dirs.Flush(ctx, "/")
		return errors.Translate(f.store.DeleteContainer(ctx, container), "rmdir", abs)
	}
	f.dirs.Flush(ctx, parentOf(abs))
	f.dirs.Flush(ctx, abs)
	return errors.Translate(f.store.DeleteObject(ctx, container, key), "rmdir", abs)
}

// Remove deletes the file p.
func (f *FS) Remove(ctx context.Context, p string) (err error) {
	defer f.observe("remove", time.Now(), &err)
	abs, container, key, err := f.resolve(p)
	if err != nil {
		return err
	}
	f.logger.Debug("remove", "path", abs)

	if key == "" {
		return errors.PermissionDenied("Can't remove a container").WithOperation("remove").WithPath(abs)
	}
	if f.IsDir(ctx, abs) {
		return errors.PermissionDenied("Can't remove a directory (use rmdir instead)").WithOperation("remove").WithPath(abs)
	}
	f.dirs.Flush(ctx, parentOf(abs))
	return errors.Translate(f.store.DeleteObject(ctx, container, key), "remove", abs)
}

// Rename moves src to dst. Files are copied server-side and the source deleted;
// empty directories and empty containers are recreated under the new name.
func (f *FS) Rename(ctx context.Context, src, dst string) (err error) {
	defer f.observe("rename", time.Now(), &err)
	src, dst = f.Abspath(src), f.Abspath(dst)
	f.logger.Debug("rename", "src", src, "dst", dst)
	if src == dst {
		return nil
	}
	f.dirs.Flush(ctx, "")

	if f.IsDir(ctx, dst) {
		dst = path.Join(dst, path.Base(src))
	}
	if f.IsDir(ctx, src) {
		names, err := f.ListDir(ctx, src)
		if err != nil {
			return err
		}
		if len(names) > 0 {
			return errors.NotEmpty("Can't rename non-empty directory: %s", src).WithOperation("rename").WithPath(src)
		}
		if f.IsFile(ctx, dst) {
			return errors.NotDirectory("Can't rename directory to file").WithOperation("rename").WithPath(dst)
		}
	}
	if src == dst {
		return nil
	}

	srcContainer, srcKey, err := utils.ParseFSPath(src)
	if err != nil {
		return err
	}
	dstContainer, dstKey, err := utils.ParseFSPath(dst)
	if err != nil {
		return err
	}

	if srcKey == "" && dstKey == "" && srcContainer != "" && dstContainer != "" {
		return f.renameContainer(ctx, srcContainer, dstContainer)
	}
	if srcContainer == "" || srcKey == "" || dstContainer == "" || dstKey == "" {
		return errors.NotPermitted("Can't rename to / from root").WithOperation("rename").WithPath(src)
	}

	if !f.IsDir(ctx, parentOf(dst)) {
		return errors.NotFound("Can't copy %s to %s, destination directory doesn't exist", src, dst).
			WithOperation("rename").WithPath(dst)
	}
	if err := f.containerExists(ctx, srcContainer, src); err != nil {
		return err
	}
	if err := f.containerExists(ctx, dstContainer, dst); err != nil {
		return err
	}

	if err := f.store.CopyObject(ctx, srcContainer, srcKey, dstContainer, dstKey); err != nil {
		return errors.Translate(err, "rename", src)
	}
	if err := f.store.DeleteObject(ctx, srcContainer, srcKey); err != nil {
		return errors.Translate(err, "rename", src)
	}
	f.dirs.Flush(ctx, parentOf(src))
	f.dirs.Flush(ctx, parentOf(dst))
	return nil
}

// renameContainer deletes src and creates dst. Only empty containers survive
// this; a populated src is refused by the store before dst is created.
func (f *FS) renameContainer(ctx context.Context, src, dst string) error {
	f.logger.Info("renaming container", "src", src, "dst", dst)
	if err := f.store.DeleteContainer(ctx, src); err != nil {
		return errors.Translate(err, "rename", "/"+src)
	}
	if err := f.store.CreateContainer(ctx, dst); err != nil {
		return errors.Translate(err, "rename", "/"+dst)
	}
	f.dirs.Flush(ctx, "/")
	return nil
}

// Open opens the object at p. Any write flag opens it for writing, replacing
// the object; otherwise it is opened for reading.
func (f *FS) Open(ctx context.Context, p string, flag int) (file File, err error) {
	defer f.observe("open", time.Now(), &err)
	abs, container, key, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("open", "path", abs, "flag", flag)

	if container == "" || key == "" {
		return nil, errors.PermissionDenied("Container and object required").WithErrno(syscall.EPERM).
			WithOperation("open").WithPath(abs)
	}
	if flag&os.O_APPEND != 0 {
		return nil, errors.NotPermitted("Appending to objects is not supported").WithOperation("open").WithPath(abs)
	}

	parent := parentOf(abs)
	f.dirs.Flush(ctx, parent)

	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) == 0 {
		return &readHandle{
			ctx:       ctx,
			store:     f.store,
			container: container,
			key:       key,
			name:      abs,
			metrics:   f.metrics,
		}, nil
	}

	contentType := objectstore.ContentTypeFor(key)
	w, err := f.store.CreateObject(ctx, container, key, contentType)
	if err != nil {
		return nil, errors.Translate(err, "open", abs)
	}
	return &writeHandle{
		ctx:         ctx,
		store:       f.store,
		container:   container,
		key:         key,
		name:        abs,
		contentType: contentType,
		splitSize:   f.opts.SplitSize,
		logger:      f.logger,
		metrics:     f.metrics,
		onClose:     func() { f.dirs.Flush(context.WithoutCancel(ctx), parent) },
		w:           w,
	}, nil
}

// MD5 returns the content hash the store reports for the file p.
func (f *FS) MD5(ctx context.Context, p string) (sum string, err error) {
	defer f.observe("md5", time.Now(), &err)
	abs, container, key, err := f.resolve(p)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", errors.PermissionDenied("Can't return the MD5 of a container").WithOperation("md5").WithPath(abs)
	}
	if f.IsDir(ctx, abs) {
		return "", errors.PermissionDenied("Can't return the MD5 of a directory").WithOperation("md5").WithPath(abs)
	}
	info, err := f.store.HeadObject(ctx, container, key)
	if err != nil {
		return "", errors.Translate(err, "md5", abs)
	}
	return info.Hash, nil
}

// Flush drops every cached listing of the session.
func (f *FS) Flush(ctx context.Context) {
	f.dirs.Flush(ctx, "")
}

// Chmod is not supported.
func (f *FS) Chmod(ctx context.Context, p string, mode os.FileMode) error {
	return errors.NotPermitted("Operation not permitted").WithOperation("chmod").WithPath(f.Abspath(p))
}

// Symlink is not supported.
func (f *FS) Symlink(ctx context.Context, target, link string) error {
	return errors.NotPermitted("Operation not permitted").WithOperation("symlink").WithPath(f.Abspath(link))
}

// Readlink is not supported.
func (f *FS) Readlink(ctx context.Context, p string) (string, error) {
	return "", errors.NotPermitted("Operation not permitted").WithOperation("readlink").WithPath(f.Abspath(p))
}

// Mkstemp is not supported.
func (f *FS) Mkstemp(ctx context.Context, dir, prefix, suffix string) (File, error) {
	return nil, errors.NotPermitted("Operation not permitted").WithOperation("mkstemp").WithPath(f.Abspath(dir))
}
