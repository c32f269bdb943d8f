package evidence

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/qri-io/jsonschema"
	"github.com/spf13/afero"

	"irkit/faults"
)

//go:embed manifest.schema.json
var manifestSchemaJSON []byte

var (
	schemaOnce     sync.Once
	manifestSchema *jsonschema.Schema
	schemaErr      error
)

func loadManifestSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		s := &jsonschema.Schema{}
		if err := json.Unmarshal(manifestSchemaJSON, s); err != nil {
			schemaErr = errors.Wrap(err, "load manifest schema")
			return
		}
		manifestSchema = s
	})
	return manifestSchema, schemaErr
}

type Problem struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

func (p Problem) String() string {
	return p.File + ": " + p.Reason
}

// Report is the outcome of verifying one bundle directory.
type Report struct {
	Dir      string    `json:"dir"`
	Manifest *Manifest `json:"manifest,omitempty"`
	Problems []Problem `json:"problems"`
}

func (r Report) OK() bool { return len(r.Problems) == 0 }

// Err summarizes the problems as an IntegrityError, or returns nil.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	msgs := make([]string, 0, len(r.Problems))
	for _, p := range r.Problems {
		msgs = append(msgs, p.String())
	}
	return &faults.IntegrityError{Subject: r.Dir, Err: errors.New(strings.Join(msgs, "; "))}
}

func (r *Report) add(file, format string, args ...interface{}) {
	r.Problems = append(r.Problems, Problem{File: file, Reason: fmt.Sprintf(format, args...)})
}

// Verify re-checks a written bundle: the manifest against its schema, every
// listed file against its file_sha256 and recomputed record digest, the bundle
// digest, and the directory for files the manifest does not list. Findings
// are returned as problems; the error is reserved for an unreadable directory.
func Verify(ctx context.Context, fs afero.Fs, dir string) (Report, error) {
	rep := Report{Dir: dir, Problems: []Problem{}}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return rep, errors.Wrapf(err, "read bundle %s", dir)
	}

	mb, err := afero.ReadFile(fs, filepath.Join(dir, ManifestFile))
	if err != nil {
		rep.add(ManifestFile, "missing or unreadable: %v", err)
		return rep, nil
	}

	schema, err := loadManifestSchema()
	if err != nil {
		return rep, err
	}
	keyErrs, err := schema.ValidateBytes(ctx, mb)
	if err != nil {
		rep.add(ManifestFile, "not valid JSON: %v", err)
		return rep, nil
	}
	for _, ke := range keyErrs {
		rep.add(ManifestFile, "schema: %s", ke)
	}

	m, err := DecodeManifest(mb)
	if err != nil {
		rep.add(ManifestFile, "%v", err)
		return rep, nil
	}
	rep.Manifest = &m

	listed := map[string]bool{ManifestFile: true}
	for _, mr := range m.Records {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if !bareName(mr.File) {
			rep.add(mr.File, "not a file name inside the bundle")
			continue
		}
		listed[mr.File] = true
		verifyRecord(fs, dir, mr, &rep)
	}

	if got := BundleDigest(m.Records); got != m.BundleDigest {
		rep.add(ManifestFile, "bundle_digest mismatch: manifest %s, recomputed %s", m.BundleDigest, got)
	}

	var extra []string
	for _, e := range entries {
		if !listed[e.Name()] {
			extra = append(extra, e.Name())
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		rep.add(name, "not listed in manifest")
	}
	return rep, nil
}

// bareName reports whether name refers to an entry directly inside the bundle.
func bareName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

func verifyRecord(fs afero.Fs, dir string, mr ManifestRecord, rep *Report) {
	b, err := afero.ReadFile(fs, filepath.Join(dir, mr.File))
	if err != nil {
		rep.add(mr.File, "missing or unreadable: %v", err)
		return
	}
	if got := SHA256Bytes(b); got != mr.FileSHA256 {
		rep.add(mr.File, "file_sha256 mismatch: manifest %s, file %s", mr.FileSHA256, got)
	}

	rec, err := DecodeArtifact(b)
	if err != nil {
		rep.add(mr.File, "%v", err)
		return
	}
	digest, err := rec.ComputeDigest()
	if err != nil {
		rep.add(mr.File, "recompute digest: %v", err)
		return
	}
	if digest != mr.RawBytesDigest {
		rep.add(mr.File, "raw_bytes_digest mismatch: manifest %s, recomputed %s", mr.RawBytesDigest, digest)
	}
	if rec.RawBytesDigest != mr.RawBytesDigest {
		rep.add(mr.File, "embedded raw_bytes_digest differs from manifest")
	}
	if rec.CollectorID != mr.CollectorID || rec.Status != mr.Status {
		rep.add(mr.File, "record identity differs from manifest entry")
	}
}
