// Package evidence writes sealed sessions to disk.
package evidence

import (
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"irkit/core/internal/session"
	bundle "irkit/evidence"
	"irkit/faults"
)

type Writer struct {
	fs     afero.Fs
	logger *log.Logger
}

func NewWriter(fs afero.Fs, logger *log.Logger) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Writer{fs: fs, logger: logger}
}

// Write lays out the bundle of sess under <output_root>/<session_id>/: one
// artifact file per record, then manifest.json once every artifact is on
// disk. An existing non-empty bundle directory is left untouched.
func (w *Writer) Write(sess *session.Session, m bundle.Manifest) (string, error) {
	dir := sess.BundleDir()

	if err := w.ensureEmptyDir(dir); err != nil {
		return "", err
	}

	records, err := bundle.PrepareRecords(sess.Records())
	if err != nil {
		return "", err
	}
	if len(records) != len(m.Records) {
		return "", &faults.IntegrityError{
			Subject: m.SessionID,
			Err:     errors.Errorf("manifest lists %d records, session holds %d", len(m.Records), len(records)),
		}
	}

	for i, rec := range records {
		entry := m.Records[i]
		if entry.CollectorID != rec.CollectorID {
			return "", &faults.IntegrityError{Subject: entry.File, Err: errors.Errorf("manifest entry is for %s", entry.CollectorID)}
		}
		b, err := bundle.EncodeArtifact(rec)
		if err != nil {
			return "", &faults.IntegrityError{Subject: entry.File, Err: err}
		}
		if got := bundle.SHA256Bytes(b); got != entry.FileSHA256 {
			return "", &faults.IntegrityError{Subject: entry.File, Err: errors.Errorf("content hashes to %s, manifest has %s", got, entry.FileSHA256)}
		}
		path := filepath.Join(dir, entry.File)
		if err := w.writeFileAtomic(path, b); err != nil {
			return "", err
		}
		if err := w.checkWritten(path, entry.FileSHA256); err != nil {
			return "", err
		}
		w.logger.Debug("artifact written", "file", entry.File, "bytes", len(b))
	}

	mb, err := m.Encode()
	if err != nil {
		return "", &faults.IntegrityError{Subject: bundle.ManifestFile, Err: err}
	}
	if err := w.writeFileAtomic(filepath.Join(dir, bundle.ManifestFile), mb); err != nil {
		return "", err
	}
	w.syncDir(dir)
	return dir, nil
}

func (w *Writer) ensureEmptyDir(dir string) error {
	exists, err := afero.DirExists(w.fs, dir)
	if err != nil {
		return &faults.OutputError{Path: dir, Op: "stat", Err: err}
	}
	if exists {
		empty, err := afero.IsEmpty(w.fs, dir)
		if err != nil {
			return &faults.OutputError{Path: dir, Op: "stat", Err: err}
		}
		if !empty {
			return &faults.OutputError{Path: dir, Op: "create", Exists: true, Err: os.ErrExist}
		}
		return nil
	}
	if err := w.fs.MkdirAll(dir, 0o750); err != nil {
		return &faults.OutputError{Path: dir, Op: "create", Err: err}
	}
	return nil
}

// writeFileAtomic writes data to a temporary sibling, flushes it and renames it
// into place.
func (w *Writer) writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := w.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return &faults.OutputError{Path: tmp, Op: "create", Err: err}
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = w.fs.Remove(tmp)
		return &faults.OutputError{Path: tmp, Op: "write", Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = w.fs.Remove(tmp)
		return &faults.OutputError{Path: tmp, Op: "sync", Err: err}
	}
	if err := f.Close(); err != nil {
		_ = w.fs.Remove(tmp)
		return &faults.OutputError{Path: tmp, Op: "close", Err: err}
	}
	if err := w.fs.Rename(tmp, path); err != nil {
		_ = w.fs.Remove(tmp)
		return &faults.OutputError{Path: path, Op: "rename", Err: err}
	}
	return nil
}

func (w *Writer) checkWritten(path, want string) error {
	got, _, err := bundle.SHA256File(w.fs, path)
	if err != nil {
		return &faults.OutputError{Path: path, Op: "read back", Err: err}
	}
	if got != want {
		return &faults.IntegrityError{Subject: path, Err: errors.Errorf("written file hashes to %s, manifest has %s", got, want)}
	}
	return nil
}

// syncDir flushes the directory entry. Not every filesystem supports it.
func (w *Writer) syncDir(dir string) {
	d, err := w.fs.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		w.logger.Debug("directory sync unsupported", "dir", dir, "err", err)
	}
}
