package linux

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"irkit/collectors"
)

var (
	DefaultRecentRoots = []string{"/home", "/tmp", "/var/log"}
	DefaultLogPaths    = []string{"/var/log/auth.log", "/var/log/syslog", "/var/log/secure", "/var/log/messages"}
)

const (
	DefaultRecentWindow   = 24 * time.Hour
	DefaultMaxRecentFiles = 50
	DefaultMaxWalkEntries = 20000
	DefaultMaxHashBytes   = 25 * 1024 * 1024
	DefaultLogTailLines   = 50

	tailReadBytes = 64 * 1024
)

type DiskOptions struct {
	FS               afero.Fs
	RecentRoots      []string
	RecentWindow     time.Duration
	MaxRecentFiles   int
	MaxWalkEntries   int
	HashFiles        bool
	MaxHashBytes     int64
	LogPaths         []string
	LogTailLines     int
	PersistencePaths []string
}

type diskRow struct {
	Kind      string `structs:"kind"`
	Path      string `structs:"path"`
	SizeBytes string `structs:"size_bytes"`
	Mode      string `structs:"mode"`
	ModTime   string `structs:"mod_time"`
	OwnerUID  string `structs:"owner_uid"`
	SHA256    string `structs:"sha256"`
	Detail    string `structs:"detail"`
}

// DiskHighlightCollector reports recently modified files, the tails of the
// usual auth/system logs and the contents of persistence locations.
type DiskHighlightCollector struct {
	fs   afero.Fs
	opts DiskOptions
}

func NewDiskHighlightCollector(opts DiskOptions) *DiskHighlightCollector {
	if opts.RecentRoots == nil {
		opts.RecentRoots = DefaultRecentRoots
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = DefaultRecentWindow
	}
	if opts.MaxRecentFiles <= 0 {
		opts.MaxRecentFiles = DefaultMaxRecentFiles
	}
	if opts.MaxWalkEntries <= 0 {
		opts.MaxWalkEntries = DefaultMaxWalkEntries
	}
	if opts.MaxHashBytes <= 0 {
		opts.MaxHashBytes = DefaultMaxHashBytes
	}
	if opts.LogPaths == nil {
		opts.LogPaths = DefaultLogPaths
	}
	if opts.LogTailLines <= 0 {
		opts.LogTailLines = DefaultLogTailLines
	}
	if opts.PersistencePaths == nil {
		opts.PersistencePaths = DefaultPersistencePaths
	}
	return &DiskHighlightCollector{fs: hostFS(opts.FS), opts: opts}
}

func (c *DiskHighlightCollector) ID() string                    { return "disk_highlights" }
func (c *DiskHighlightCollector) Category() collectors.Category { return collectors.CategoryDisk }
func (c *DiskHighlightCollector) Schema() []string              { return collectors.DiskSchema }

func (c *DiskHighlightCollector) Collect(ctx context.Context, rc collectors.RunContext) ([]collectors.Row, error) {
	var rows []collectors.Row
	var errs []string

	since := rc.NowUTC().Add(-c.opts.RecentWindow)
	recent, err := c.recentFiles(ctx, since)
	rows = append(rows, recent...)
	if err != nil {
		if ctx.Err() != nil {
			return rows, ctx.Err()
		}
		errs = append(errs, err.Error())
	}

	for _, p := range c.opts.LogPaths {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		row, err := c.logTail(p)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err.Error())
			}
			continue
		}
		rows = append(rows, collectors.RowFrom(row))
	}

	if err := ctx.Err(); err != nil {
		return rows, err
	}
	persist, perrs := c.persistence()
	rows = append(rows, persist...)
	errs = append(errs, perrs...)

	if len(errs) > 0 {
		return rows, errors.New(strings.Join(errs, "; "))
	}
	return rows, nil
}

var (
	errResultCap = errors.New("result_cap")
	errWalkCap   = errors.New("walk_cap")
)

func isExcluded(path string) bool {
	p := filepath.Clean(path)
	for _, e := range []string{"/proc", "/sys", "/dev", "/run"} {
		if p == e || strings.HasPrefix(p, e+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

// recentFiles walks the configured roots in lexical order and returns regular
// files modified after since, up to MaxRecentFiles, visiting at most
// MaxWalkEntries entries overall. Hitting the walk limit is reported as an
// error alongside the rows gathered so far.
func (c *DiskHighlightCollector) recentFiles(ctx context.Context, since time.Time) ([]collectors.Row, error) {
	var rows []collectors.Row
	seen := 0

	for _, root := range c.opts.RecentRoots {
		if root == "" || isExcluded(root) {
			continue
		}
		if _, err := c.fs.Stat(root); err != nil {
			continue
		}

		err := afero.Walk(c.fs, root, func(path string, info os.FileInfo, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if walkErr != nil || info == nil {
				return nil
			}
			if isExcluded(path) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if len(rows) >= c.opts.MaxRecentFiles {
				return errResultCap
			}
			seen++
			if seen > c.opts.MaxWalkEntries {
				return errWalkCap
			}
			if !info.Mode().IsRegular() || !info.ModTime().After(since) {
				return nil
			}

			row := c.describe("recent_file", path, info)
			if c.opts.HashFiles && info.Size() <= c.opts.MaxHashBytes {
				if h, err := sha256File(c.fs, path); err == nil {
					row.SHA256 = h
				}
			}
			rows = append(rows, collectors.RowFrom(row))
			return nil
		})
		if errors.Is(err, errResultCap) {
			break
		}
		if errors.Is(err, errWalkCap) {
			return rows, errors.Errorf("recent files: walk stopped after %d entries", c.opts.MaxWalkEntries)
		}
		if err != nil {
			return rows, errors.Wrapf(err, "walk %s", root)
		}
	}
	return rows, nil
}

func (c *DiskHighlightCollector) logTail(path string) (diskRow, error) {
	info, err := c.fs.Stat(path)
	if err != nil {
		return diskRow{}, err
	}
	f, err := c.fs.Open(path)
	if err != nil {
		return diskRow{}, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	offset := info.Size() - tailReadBytes
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return diskRow{}, errors.Wrapf(err, "seek %s", path)
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return diskRow{}, errors.Wrapf(err, "read %s", path)
	}

	row := c.describe("log_tail", path, info)
	row.Detail = lastLines(string(b), c.opts.LogTailLines, offset > 0)
	return row, nil
}

// lastLines returns the final n lines of s. When s starts mid-file its first,
// possibly partial, line is discarded.
func lastLines(s string, n int, truncated bool) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if truncated && len(lines) > 1 {
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func (c *DiskHighlightCollector) describe(kind, path string, info os.FileInfo) diskRow {
	return diskRow{
		Kind:      kind,
		Path:      path,
		SizeBytes: strconv.FormatInt(info.Size(), 10),
		Mode:      info.Mode().String(),
		ModTime:   info.ModTime().UTC().Format(time.RFC3339Nano),
		OwnerUID:  fileOwner(info),
	}
}

func sha256File(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
